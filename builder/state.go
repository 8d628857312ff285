// Package builder implements the per-anchor builder state: the
// cooperatively-scheduled actor that ingests DA proposals, quorum
// proposals, decides and transactions for one (parent, view) anchor,
// and answers block-build requests (spec §4.3). Grounded on the
// teacher's miner.worker / preconfLoop select-over-channels event loop
// and on preconf.FIFOTxSet for the ordered, deduplicated mempool.
package builder

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/registry"
)

// AllowEmptyBlockPeriod is the policy constant bounding how many views
// after a non-empty block a request may still be answered with an
// empty one (spec §4.3.1, §6 Tunables, §9 "Empty-block window"). A
// package var rather than a const: it is a deployment tunable, but
// changing it at runtime after states have already spawned changes
// consensus-observable behavior pinned by spec §8 S3/S4, so it should
// only be set once at startup.
var AllowEmptyBlockPeriod coretypes.View = 3

// MaintenanceIdleBound is how long a state waits on all five input
// channels before giving up and terminating (spec §4.3, §6 tunables).
var MaintenanceIdleBound = time.Second

// Phase is the builder state's lifecycle phase (spec §4.3.3).
type Phase uint8

const (
	PhaseActive Phase = iota
	PhaseChildSpawned
	PhaseTerminated
)

// Config bundles the per-state tunables from spec §6.
type Config struct {
	MaxBlockSize  uint64
	BuildTimeout  time.Duration // "channel-build timeout inside a state" (default 40ms)
	RequestBuffer int
}

// DefaultConfig matches the tunables named in spec §6.
var DefaultConfig = Config{
	MaxBlockSize:  1 << 20,
	BuildTimeout:  40 * time.Millisecond,
	RequestBuffer: 8,
}

// State is one builder state: the actor anchored at (parent, view)
// described throughout spec §3/§4.3.
type State struct {
	anchor       coretypes.Anchor
	numNodesHint uint64
	codec        coretypes.PayloadCodec
	reg          *registry.Registry
	buses        *Buses
	cfg          Config

	mempool *mempool
	seenDA  map[coretypes.View]coretypes.DaProposalInfo
	seenQC  map[coretypes.View]coretypes.QuorumProposalInfo

	allowEmptyUntil coretypes.View
	phase           Phase
	childAnchor     *coretypes.Anchor

	reqCh  chan coretypes.RequestMessage
	txCh   chan coretypes.Transaction
	daCh   chan coretypes.DaProposalInfo
	qcCh   chan coretypes.QuorumProposalInfo
	decCh  chan coretypes.DecideEvent

	txSub  event.Subscription
	daSub  event.Subscription
	qcSub  event.Subscription
	decSub event.Subscription
}

// New constructs a builder state for anchor. numNodesHint is the
// committee size used to parameterize VID commitments this state
// computes (inherited from the DA proposal that caused it to be
// spawned, or a startup default for the bootstrap state). The caller
// is responsible for registering the returned state's request channel
// with the registry and for starting Run in its own goroutine.
func New(anchor coretypes.Anchor, numNodesHint uint64, pc coretypes.PayloadCodec, reg *registry.Registry, buses *Buses, cfg Config) *State {
	s := &State{
		anchor:       anchor,
		numNodesHint: numNodesHint,
		codec:        pc,
		reg:          reg,
		buses:        buses,
		cfg:          cfg,
		mempool:      newMempool(),
		seenDA:       make(map[coretypes.View]coretypes.DaProposalInfo),
		seenQC:       make(map[coretypes.View]coretypes.QuorumProposalInfo),
		reqCh:        make(chan coretypes.RequestMessage, cfg.RequestBuffer),
		txCh:         make(chan coretypes.Transaction, DefaultBusCapacity),
		daCh:         make(chan coretypes.DaProposalInfo, DefaultBusCapacity),
		qcCh:         make(chan coretypes.QuorumProposalInfo, DefaultBusCapacity),
		decCh:        make(chan coretypes.DecideEvent, DefaultBusCapacity),
	}
	s.txSub = reg.SubscribeTx(s.txCh)
	s.daSub = buses.DA.Subscribe(s.daCh)
	s.qcSub = buses.QC.Subscribe(s.qcCh)
	s.decSub = buses.Decide.Subscribe(s.decCh)
	return s
}

// RequestChannel returns the send-only end to register with the
// registry.
func (s *State) RequestChannel() chan<- coretypes.RequestMessage { return s.reqCh }

// Seed adds txs directly to the mempool without going through the tx
// bus; used when spawning a child with the parent's remaining
// transactions (spec §4.3.2), which by design predates the child's
// bus subscription.
func (s *State) Seed(txs []coretypes.Transaction) {
	for _, tx := range txs {
		s.mempool.Add(tx)
	}
}

// Run is the state's event loop (spec §4.3): a select over its five
// input channels, terminating on Decide(D >= anchor.V), on every
// input closing, or after MaintenanceIdleBound of silence.
func (s *State) Run() {
	defer s.terminate()
	for {
		select {
		case tx, ok := <-s.txCh:
			if !ok {
				return
			}
			s.handleTx(tx)
		case da, ok := <-s.daCh:
			if !ok {
				return
			}
			s.handleDA(da)
		case qc, ok := <-s.qcCh:
			if !ok {
				return
			}
			s.handleQC(qc)
		case d, ok := <-s.decCh:
			if !ok {
				return
			}
			if s.handleDecide(d) {
				return
			}
		case req, ok := <-s.reqCh:
			if !ok {
				return
			}
			s.handleRequest(req)
		case <-time.After(MaintenanceIdleBound):
			log.Debug("builder: idle timeout, terminating", "anchor", s.anchor)
			return
		}
	}
}

func (s *State) terminate() {
	s.phase = PhaseTerminated
	s.txSub.Unsubscribe()
	s.daSub.Unsubscribe()
	s.qcSub.Unsubscribe()
	s.decSub.Unsubscribe()
	log.Debug("builder: state terminated", "anchor", s.anchor)
}

// handleTx appends tx to the mempool unless it is a duplicate or a
// strictly later view's DA proposal has already claimed it (spec
// §4.3 "Transaction").
func (s *State) handleTx(tx coretypes.Transaction) {
	for v, info := range s.seenDA {
		if v <= s.anchor.View {
			continue
		}
		for _, c := range info.TxnCommitments {
			if c == tx.Commitment {
				return
			}
		}
	}
	if s.mempool.Add(tx) {
		metricMempoolSize.Update(int64(s.mempool.Len()))
	}
}

func (s *State) handleDA(info coretypes.DaProposalInfo) {
	s.seenDA[info.View] = info
	s.tryMatch(info.View)
}

func (s *State) handleQC(info coretypes.QuorumProposalInfo) {
	s.seenQC[info.View] = info
	s.tryMatch(info.View)
}

// tryMatch checks whether the (DA, QC) pair at view v matches (spec
// §4.3 "If seen_qc[V'] is also present and matches") and, if v is
// exactly this state's next view and no successor has yet been
// spawned (I5), spawns one.
func (s *State) tryMatch(v coretypes.View) {
	da, okDA := s.seenDA[v]
	qc, okQC := s.seenQC[v]
	if !okDA || !okQC || da.BuilderCommitment != qc.BuilderCommitment {
		return
	}
	if v != s.anchor.View.Next() || s.phase == PhaseChildSpawned {
		return
	}
	s.spawnChild(da, qc)
}

// handleDecide terminates this state once consensus has decided at or
// past its own anchor view (spec §4.3 "Decide"); returns true when the
// caller should stop the event loop.
func (s *State) handleDecide(d coretypes.DecideEvent) bool {
	return d.View >= s.anchor.View
}

// handleRequest implements spec §4.3.1, the heart of the
// anti-empty-block policy.
func (s *State) handleRequest(req coretypes.RequestMessage) {
	if req.Parent != s.anchor.Parent || req.View < s.anchor.View {
		return // not ours; gateway will time out and fall back to last_built
	}

	claimed := s.claimedThrough(req.View)
	unclaimed := s.mempool.Remaining(claimed)
	haveTx := len(unclaimed) > 0

	// allowEmptyUntil == 0 means no grace window has opened yet.
	if !haveTx && (s.allowEmptyUntil == 0 || req.View > s.allowEmptyUntil) {
		log.Trace("builder: refusing empty block", "anchor", s.anchor, "view", req.View, "allowUntil", s.allowEmptyUntil)
		return // no-op: consensus will retry and eventually give up
	}

	prefix := selectPrefix(unclaimed, s.cfg.MaxBlockSize)

	payload, err := s.buildWithTimeout(prefix)
	if err != nil {
		log.Warn("builder: block build failed", "anchor", s.anchor, "view", req.View, "err", err)
		return
	}

	vc, err := s.codec.VID(payload, s.numNodesHint)
	if err != nil {
		log.Warn("builder: vid computation failed", "anchor", s.anchor, "view", req.View, "err", err)
		return
	}
	bc, err := s.codec.BuilderCommitment(payload, nil)
	if err != nil {
		log.Warn("builder: builder commitment failed", "anchor", s.anchor, "view", req.View, "err", err)
		return
	}

	blockSize := uint64(len(payload))
	info := coretypes.BlockInfo{
		Payload:      payload,
		Metadata:     nil,
		OfferedFee:   offeredFee(blockSize),
		Commitment:   bc,
		BlockSize:    blockSize,
		ParentAnchor: s.anchor,
	}
	resp := coretypes.ResponseMessage{Commitment: bc, BlockSize: blockSize, OfferedFee: info.OfferedFee}

	s.reg.RecordBuilt(info, s.anchor, resp)
	log.Trace("builder: built candidate block", "anchor", s.anchor, "view", req.View, "vc", vc, "bc", bc, "size", blockSize)

	select {
	case req.Reply <- resp:
	default:
	}

	if blockSize > 0 {
		s.allowEmptyUntil = req.View + AllowEmptyBlockPeriod
	}
	metricBlocksBuilt.Inc(1)
}

// claimedThrough returns the union of transaction commitments claimed
// by any DA proposal at a view <= upTo (spec §4.3.1 "mempool is
// nonempty after filtering out transactions already claimed by any
// seen_da[V' <= V_req]").
func (s *State) claimedThrough(upTo coretypes.View) map[coretypes.BuilderCommitment]struct{} {
	out := make(map[coretypes.BuilderCommitment]struct{})
	for v, info := range s.seenDA {
		if v > upTo {
			continue
		}
		for _, c := range info.TxnCommitments {
			out[c] = struct{}{}
		}
	}
	return out
}

// buildWithTimeout runs the codec's Encode within the configured
// build-timeout budget, mirroring the teacher's interrupt-timer
// pattern for bounding block construction (miner.fillTransactions).
func (s *State) buildWithTimeout(txs []coretypes.Transaction) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := s.codec.Encode(txs, nil)
		done <- result{payload, err}
	}()
	select {
	case r := <-done:
		return r.payload, r.err
	case <-time.After(s.cfg.BuildTimeout):
		return nil, errBuildTimeout
	}
}

// spawnChild implements spec §4.3.2: on a matching (DA,QC) pair at
// V'=anchor.V+1, create and register the successor state seeded with
// the transactions the parent's DA proposal at V' did not claim.
func (s *State) spawnChild(da coretypes.DaProposalInfo, qc coretypes.QuorumProposalInfo) {
	vcChild, err := s.codec.VID(qc.BlockHeader, da.NumStorageNodes)
	if err != nil {
		log.Warn("builder: failed to compute child anchor commitment", "anchor", s.anchor, "view", da.View, "err", err)
		return
	}
	claimed := make(map[coretypes.BuilderCommitment]struct{}, len(da.TxnCommitments))
	for _, c := range da.TxnCommitments {
		claimed[c] = struct{}{}
	}
	remaining := s.mempool.Remaining(claimed)

	childAnchor := coretypes.Anchor{Parent: vcChild, View: da.View}
	child := New(childAnchor, da.NumStorageNodes, s.codec, s.reg, s.buses, s.cfg)
	child.Seed(remaining)
	// Inherit the parent's empty-block grace window so a freshly
	// spawned child doesn't immediately re-trigger retries consensus
	// already tolerated one hop up.
	if s.allowEmptyUntil > child.allowEmptyUntil {
		child.allowEmptyUntil = s.allowEmptyUntil
	}

	s.reg.Register(childAnchor, child.RequestChannel())
	go child.Run()

	s.childAnchor = &childAnchor
	s.phase = PhaseChildSpawned
	log.Info("builder: spawned successor state", "parent", s.anchor, "child", childAnchor)
}

// selectPrefix returns the arrival-ordered prefix of txs whose total
// payload size fits within maxSize.
func selectPrefix(txs []coretypes.Transaction, maxSize uint64) []coretypes.Transaction {
	var total uint64
	for i, tx := range txs {
		total += uint64(len(tx.Payload))
		if total > maxSize {
			return txs[:i]
		}
	}
	return txs
}

// offeredFee is a deterministic stand-in fee schedule: one fee unit
// per payload byte. Real fee computation belongs to the auction /
// bid side channel, out of scope for this core (spec §1).
func offeredFee(blockSize uint64) uint64 { return blockSize }
