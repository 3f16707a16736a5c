package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/bundlesettle/pkg/metrics"
)

const (
	topicBundles   = "bundlesettle/bundles/1"
	protocolSubmit = protocol.ID("/bundlesettle/submit/1.0.0")

	maxSubmitBytes = 4 << 20
)

// BundleHandler executes a verified bundle and returns its receipt sequence.
type BundleHandler func(ctx context.Context, raw []byte) (uint64, error)

type Libp2pNet struct {
	h        host.Host
	ps       *pubsub.PubSub
	log      *zap.SugaredLogger
	verifier *Verifier
	handle   BundleHandler
	metrics  *metrics.Metrics

	tBundles   *pubsub.Topic
	subBundles *pubsub.Subscription
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Verifier   *Verifier
	Handler    BundleHandler
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Verifier == nil || cfg.Handler == nil {
		return nil, errors.New("p2p: verifier and handler are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{
		h: h, ps: ps, log: cfg.Logger,
		verifier: cfg.Verifier,
		handle:   cfg.Handler,
		metrics:  cfg.Metrics,
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if net.tBundles, err = ps.Join(topicBundles); err != nil {
		h.Close()
		return nil, err
	}
	if net.subBundles, err = net.tBundles.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	h.SetStreamHandler(protocolSubmit, net.handleSubmitStream)
	go net.handleBundles(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) Host() host.Host { return n.h }

func (n *Libp2pNet) Close() error {
	n.subBundles.Cancel()
	return n.h.Close()
}

// BroadcastBundle gossips an attested bundle.
func (n *Libp2pNet) BroadcastBundle(ctx context.Context, w *BundleWire) error {
	data, err := gobEncode(w)
	if err != nil {
		return err
	}
	return n.tBundles.Publish(ctx, data)
}

// SubmitTo sends an attested bundle straight to one peer and waits for the
// outcome.
func (n *Libp2pNet) SubmitTo(ctx context.Context, to peer.ID, w *BundleWire) (uint64, error) {
	stream, err := n.h.NewStream(ctx, to, protocolSubmit)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	data, err := gobEncode(w)
	if err != nil {
		return 0, err
	}
	if _, err := stream.Write(data); err != nil {
		return 0, err
	}
	if err := stream.CloseWrite(); err != nil {
		return 0, err
	}

	resp, err := io.ReadAll(io.LimitReader(stream, maxSubmitBytes))
	if err != nil {
		return 0, err
	}
	var res SubmitResult
	if err := gobDecode(resp, &res); err != nil {
		return 0, fmt.Errorf("p2p: decode submit result: %w", err)
	}
	if res.Err != "" {
		return 0, errors.New(res.Err)
	}
	return res.Sequence, nil
}

// inbound

func (n *Libp2pNet) handleBundles(ctx context.Context) {
	for {
		msg, err := n.subBundles.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w BundleWire
		if err := gobDecode(msg.Data, &w); err != nil {
			n.count("undecodable")
			continue
		}
		if _, err := n.process(ctx, &w); err != nil {
			n.log.Debugw("gossip_bundle_rejected", "from", msg.ReceivedFrom.String(), "err", err)
		}
	}
}

// handleSubmitStream: one envelope in, one SubmitResult out
func (n *Libp2pNet) handleSubmitStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, maxSubmitBytes))
	if err != nil {
		return
	}

	var res SubmitResult
	var w BundleWire
	if err := gobDecode(data, &w); err != nil {
		n.count("undecodable")
		res.Err = fmt.Sprintf("decode envelope: %v", err)
	} else if res.Sequence, err = n.process(context.Background(), &w); err != nil {
		res.Err = err.Error()
	}

	out, err := gobEncode(res)
	if err != nil {
		return
	}
	_, _ = s.Write(out)
}

func (n *Libp2pNet) process(ctx context.Context, w *BundleWire) (uint64, error) {
	if err := n.verifier.Check(w); err != nil {
		n.count("unattested")
		return 0, err
	}
	seq, err := n.handle(ctx, w.Bundle)
	if err != nil {
		n.count("aborted")
		return 0, err
	}
	n.count("committed")
	return seq, nil
}

func (n *Libp2pNet) count(result string) {
	if n.metrics != nil {
		n.metrics.GossipReceived.WithLabelValues(result).Inc()
	}
}
