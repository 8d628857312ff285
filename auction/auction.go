// Package auction submits the builder's bid to the sequencing
// marketplace's solver on every ViewFinished event (spec §4.5).
// Grounded on the teacher's preconf package's HTTP-posting patterns
// and on miner/worker.go's "do the expensive thing off the hot path"
// discipline: bid submission runs in its own goroutine per view so a
// slow or unreachable solver never stalls event demuxing.
package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// ViewOffset is the number of views ahead of the view that just
// finished that a bid targets (spec §4.5: "view := V+3").
const ViewOffset = coretypes.View(3)

// DefaultTimeout bounds a single bid POST.
const DefaultTimeout = 2 * time.Second

// Bidder submits one BidTx per ViewFinished event.
type Bidder struct {
	cfg        coretypes.BidConfig
	keys       coretypes.KeyScheme
	namespace  coretypes.NamespaceID
	solverURL  string
	httpClient *http.Client
}

// New constructs a Bidder. namespace is the namespace the builder is
// bidding to win exclusive block-building rights over.
func New(cfg coretypes.BidConfig, keys coretypes.KeyScheme, namespace coretypes.NamespaceID, solverURL string) *Bidder {
	return &Bidder{
		cfg:        cfg,
		keys:       keys,
		namespace:  namespace,
		solverURL:  solverURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// OnViewFinished is the eventdriver.Driver callback: it builds, signs
// and posts a bid for view+ViewOffset. Failures are logged and
// otherwise non-fatal (spec §4.5: "a failed bid submission never
// blocks or crashes the builder").
func (b *Bidder) OnViewFinished(ev coretypes.ViewFinishedEvent) {
	go func() {
		if err := b.submitBid(ev.View + ViewOffset); err != nil {
			log.Warn("auction: bid submission failed", "targetView", ev.View+ViewOffset, "err", err)
		}
	}()
}

func (b *Bidder) submitBid(target coretypes.View) error {
	priv, pub, err := b.keys.DeriveFromSeed(b.cfg.AccountSeed, b.cfg.AccountIndex)
	if err != nil {
		return fmt.Errorf("auction: derive bid account: %w", err)
	}

	bid := coretypes.BidTx{
		Account:   fmt.Sprintf("0x%x", pub),
		View:      target,
		Namespace: b.namespace,
		Amount:    b.cfg.BidAmount,
	}
	sig, err := b.keys.SignWith(priv, bidDigest(bid))
	if err != nil {
		return fmt.Errorf("auction: sign bid: %w", err)
	}
	bid.Signature = sig

	body, err := json.Marshal(bid)
	if err != nil {
		return fmt.Errorf("auction: marshal bid: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.solverURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auction: post bid: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("auction: solver returned status %d", resp.StatusCode)
	}
	log.Debug("auction: bid submitted", "targetView", target, "amount", b.cfg.BidAmount)
	return nil
}

func bidDigest(bid coretypes.BidTx) []byte {
	buf, _ := json.Marshal(struct {
		Account   string
		View      coretypes.View
		Namespace coretypes.NamespaceID
		Amount    string
	}{bid.Account, bid.View, bid.Namespace, bid.Amount.String()})
	return buf
}
