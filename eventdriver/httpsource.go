package eventdriver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// StartupInfo is the response of {hotshot_events_url}/hotshot-events/startup_info,
// used to size the committee view (spec §6 Outbound).
type StartupInfo struct {
	KnownNodesWithStake int `json:"known_node_with_stake"`
	NonStakedNodeCount  int `json:"non_staked_node_count"`
}

// wireEvent is the newline-delimited JSON shape the HotShot events
// endpoint is assumed to emit: a kind tag plus whichever payload
// fields that kind populates. Unknown fields are ignored so the
// builder tolerates a richer upstream event schema.
type wireEvent struct {
	Kind           string                    `json:"kind"`
	Transactions   []string                  `json:"transactions"`
	Namespace      *uint64                   `json:"namespace"`
	DaProposal     *coretypes.DaProposalInfo `json:"da_proposal"`
	QuorumProposal *wireQuorumProposal       `json:"quorum_proposal"`
	Decide         *coretypes.DecideEvent    `json:"decide"`
	ViewFinished   *coretypes.ViewFinishedEvent `json:"view_finished"`
	LeaderPubKey   string                    `json:"leader_pub_key"`
	Signature      string                    `json:"signature"`
	SignedBytes    string                    `json:"signed_bytes"`
}

type wireQuorumProposal struct {
	View              coretypes.View              `json:"view"`
	BlockHeader        string                      `json:"block_header"`
	BuilderCommitment coretypes.BuilderCommitment `json:"builder_commitment"`
}

// HTTPSource implements Source by streaming newline-delimited JSON
// events from {baseURL}/hotshot-events/events, per spec §6 Outbound.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs an HTTPSource. baseURL is hotshot_events_url
// with no trailing slash.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{baseURL: baseURL, client: http.DefaultClient}
}

// Startup probes /hotshot-events/startup_info.
func (h *HTTPSource) Startup(ctx context.Context) (StartupInfo, error) {
	var info StartupInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/hotshot-events/startup_info", nil)
	if err != nil {
		return info, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return info, fmt.Errorf("eventdriver: startup probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("eventdriver: startup probe returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("eventdriver: decode startup info: %w", err)
	}
	return info, nil
}

func (h *HTTPSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/hotshot-events/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eventdriver: subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("eventdriver: subscribe returned status %d", resp.StatusCode)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		dec := json.NewDecoder(resp.Body)
		for {
			var w wireEvent
			if err := dec.Decode(&w); err != nil {
				log.Debug("eventdriver: event stream decode ended", "err", err)
				return
			}
			ev, ok := translate(w)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func translate(w wireEvent) (Event, bool) {
	ev := Event{
		LeaderPubKey: mustHex(w.LeaderPubKey),
		Signature:    mustHex(w.Signature),
		SignedBytes:  mustHex(w.SignedBytes),
	}
	switch w.Kind {
	case "transactions":
		ev.Kind = KindTransactions
		ev.Transactions = make([][]byte, len(w.Transactions))
		for i, t := range w.Transactions {
			ev.Transactions[i] = mustHex(t)
		}
		if w.Namespace != nil {
			ns := coretypes.NamespaceID(*w.Namespace)
			ev.Namespace = &ns
		}
	case "da_proposal":
		if w.DaProposal == nil {
			return Event{}, false
		}
		ev.Kind = KindDaProposal
		ev.DaProposal = *w.DaProposal
	case "quorum_proposal":
		if w.QuorumProposal == nil {
			return Event{}, false
		}
		ev.Kind = KindQuorumProposal
		ev.QuorumProposal = coretypes.QuorumProposalInfo{
			View:              w.QuorumProposal.View,
			BlockHeader:       mustHex(w.QuorumProposal.BlockHeader),
			BuilderCommitment: w.QuorumProposal.BuilderCommitment,
		}
	case "decide":
		if w.Decide == nil {
			return Event{}, false
		}
		ev.Kind = KindDecide
		ev.Decide = *w.Decide
	case "view_finished":
		if w.ViewFinished == nil {
			return Event{}, false
		}
		ev.Kind = KindViewFinished
		ev.ViewFinished = *w.ViewFinished
	default:
		log.Warn("eventdriver: unrecognized wire event kind", "kind", w.Kind)
		return Event{}, false
	}
	return ev, true
}

func mustHex(s string) []byte {
	if s == "" {
		return nil
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		log.Warn("eventdriver: malformed hex field in event", "err", err)
		return nil
	}
	return b
}
