package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meshnode/meshnode/internal/clusterproto"
	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/config"
	"github.com/meshnode/meshnode/internal/demo"
	"github.com/meshnode/meshnode/internal/forward"
	"github.com/meshnode/meshnode/internal/metrics"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/router"
	"github.com/meshnode/meshnode/internal/session"
	"github.com/meshnode/meshnode/internal/task"
	"github.com/meshnode/meshnode/internal/timer"
)

// Node is a fully wired process: the loop Server plus every I/O runtime
// goroutine the errgroup supervises around it.
type Node struct {
	Server  *Server
	Metrics *metrics.Metrics

	groupCancel context.CancelFunc
	backL       *netio.TCPListener
	frontL      *netio.TCPListener
	frontWSL    *netio.WSListener
}

// Bootstrap wires every subsystem for server id selfID in cfg: the event
// queue and dispatcher, both session managers, the cluster protocol
// manager, the router and forwarding pipeline, the worker-side message
// dispatcher (with the sample echo handler registered), and the back/front
// listeners. It does not start the loop; call Run on the returned Node.
func Bootstrap(cfg *config.Config, selfID uint32, log *zap.Logger, m *metrics.Metrics) (*Node, error) {
	self, group, found := cfg.FindServer(selfID)
	if !found {
		return nil, fmt.Errorf("engine: server id %d not present in configuration", selfID)
	}

	registry := codec.NewRegistry()
	codec.RegisterCatalog(registry)

	queue := netio.NewQueue()
	dispatcher := netio.NewDispatcher()
	tasks := task.NewManager(queue.Notify)
	timers := timer.NewManager(nowMs)

	var nextSID uint64
	mintSID := func() uint64 { return atomic.AddUint64(&nextSID, 1) }

	backMgr := session.NewBackSessionManager(func(addr string, sessionID uint64) {
		netio.DialTCP(addr, netio.BackTCP, sessionID, registry, queue)
	})
	frontMgr := session.NewFrontSessionManager()

	masterEntry, _, masterFound := cfg.FindServer(cfg.MasterID)
	clusterCfg := clusterproto.Config{
		Self: clusterproto.ServerInfo{
			ServerID:   self.ID,
			ServerType: group.Name,
			BackHost:   self.EffectiveBackHost(),
			BackPort:   self.BackTCPPort,
		},
		IsMaster:  selfID == cfg.MasterID,
		MasterID:  cfg.MasterID,
		AuthorKey: cfg.AuthorKey,
	}
	if masterFound {
		clusterCfg.MasterHost = masterEntry.EffectiveBackHost()
		clusterCfg.MasterPort = masterEntry.BackTCPPort
	}

	catalog := clusterproto.NewCatalog()
	catalog.Add(clusterCfg.Self)
	clusterMgr := clusterproto.NewManager(clusterCfg, catalog, backMgr, registry, log, nowMs32, timers)

	routerMgr := router.NewManager(backMgr, frontMgr, pseudoRandIntN)
	forwardMgr := forward.NewManager(registry, routerMgr, backMgr, frontMgr, log)

	backMD := netio.NewMessageDispatcher(netio.BackTCP)
	frontMD := netio.NewMessageDispatcher(netio.FrontTCP, netio.FrontWS)
	backMD.OnUnknown(func(e netio.Event) {
		log.Warn("unknown back message id, dropping", zap.Uint64("session_id", e.SessionID))
	})
	frontMD.OnUnknown(func(e netio.Event) {
		log.Warn("unknown front message id, dropping", zap.Uint64("session_id", e.SessionID))
	})

	clusterMgr.RegisterHandlers(backMD)
	forwardMgr.RegisterHandlers(frontMD, backMD)

	workerDispatcher := forward.NewMessageDispatcher(registry, backMgr, log)
	demo.RegisterEchoHandler(workerDispatcher)
	workerDispatcher.RegisterOn(backMD)

	dispatcher.Register(backMgr)
	dispatcher.Register(frontMgr)
	dispatcher.Register(clusterMgr)
	dispatcher.Register(backMD)
	dispatcher.Register(frontMD)

	backL, err := netio.ListenTCP(fmt.Sprintf("%s:%d", self.EffectiveBackHost(), self.BackTCPPort), netio.BackTCP, registry, queue, mintSID)
	if err != nil {
		return nil, fmt.Errorf("engine: listen back tcp: %w", err)
	}

	node := &Node{
		Server:  NewServer(queue, dispatcher, tasks, timers, log, m),
		Metrics: m,
		backL:   backL,
	}

	if group.Front {
		if self.FrontTCPPort != 0 {
			frontL, err := netio.ListenTCP(fmt.Sprintf("%s:%d", self.EffectiveFrontHost(), self.FrontTCPPort), netio.FrontTCP, registry, queue, mintSID)
			if err != nil {
				return nil, fmt.Errorf("engine: listen front tcp: %w", err)
			}
			node.frontL = frontL
		}
		if self.FrontWSPort != 0 {
			addr := fmt.Sprintf("%s:%d", self.EffectiveFrontHost(), self.FrontWSPort)
			node.frontWSL = netio.ListenWS(addr, "/ws", registry, queue, mintSID)
		}
	}

	return node, nil
}

// Run starts every I/O listener under an errgroup and runs the event loop
// until ctx is cancelled, then tears down the listeners. The first
// listener error (other than a clean Close) or loop error is returned.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.groupCancel = cancel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.backL.Serve()
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	if n.frontL != nil {
		g.Go(func() error {
			err := n.frontL.Serve()
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if n.frontWSL != nil {
		g.Go(func() error {
			err := n.frontWSL.Serve()
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return n.Server.Run(gctx)
	})

	// Listeners block in Accept/ListenAndServe until Close is called; tie
	// that to context cancellation so Stop (or the loop's own exit)
	// actually unblocks them instead of leaving g.Wait() hung.
	g.Go(func() error {
		<-gctx.Done()
		n.closeListeners()
		return nil
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop requests a graceful shutdown: the loop exits, listeners close, and
// Run returns.
func (n *Node) Stop() {
	n.Server.Stop()
	if n.groupCancel != nil {
		n.groupCancel()
	}
}

func (n *Node) closeListeners() {
	n.backL.Close()
	if n.frontL != nil {
		n.frontL.Close()
	}
	if n.frontWSL != nil {
		n.frontWSL.Close()
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func nowMs32() uint32 {
	return uint32(time.Now().UnixMilli())
}

// pseudoRandIntN is the router's random-pick source. Not cryptographic;
// routing fairness has no adversarial requirement (spec §4.10).
func pseudoRandIntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(time.Now().UnixNano() % int64(n))
}
