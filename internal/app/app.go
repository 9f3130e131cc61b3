// Package app wires LeadPipe's modules together and runs them for the
// lifetime of a command.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/classifier"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/forwarder"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/relay"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

// Run acquires the state directory, opens the store and the WhatsApp
// session, and runs mode until it finishes or ctx is cancelled. Everything
// acquired here is released before Run returns.
func Run(ctx context.Context, cfg config.Config, mode relay.Mode) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, string(mode))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open dedup store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	waOpts := []whatsapp.Option{
		whatsapp.WithDBDSN(cfg.WhatsAppDSN),
		whatsapp.WithArchive(st),
		whatsapp.WithLiveBufferSize(cfg.LiveBufferSize),
		whatsapp.WithLogLevel(whatsmeowLevel(cfg.LogLevel)),
	}
	if cfg.QRPath != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QRPath))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	waClient, err := whatsapp.NewClient(ctx, waOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect to WhatsApp: %w", err)
	}
	defer waClient.Close()

	dest, err := NewDestination(cfg, waClient)
	if err != nil {
		return err
	}
	return RunPipeline(ctx, cfg, mode, st, messaging.NewWhatsAppSource(waClient), dest)
}

// NewDestination builds the configured outbound transport.
func NewDestination(cfg config.Config, waClient whatsapp.WhatsAppSender) (messaging.Destination, error) {
	switch cfg.DestinationTransport {
	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioDestination(client, cfg.Destination), nil
	case config.TransportWhatsApp, "":
		return messaging.NewWhatsAppDestination(waClient, cfg.Destination), nil
	default:
		return nil, fmt.Errorf("unknown destination transport %q", cfg.DestinationTransport)
	}
}

// RunPipeline builds the relay over an open store, source and destination
// and runs it, alongside the metrics listener when one is configured.
func RunPipeline(ctx context.Context, cfg config.Config, mode relay.Mode, st store.DedupRepo, src messaging.Source, dest messaging.Destination) error {
	cls, err := classifier.New(cfg.Keywords, cfg.ProximityChars)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}
	m := metrics.New()
	fwd := forwarder.New(dest, st,
		forwarder.WithMinDelay(cfg.MinDelay),
		forwarder.WithSnippetMaxChars(cfg.SnippetMaxChars),
		forwarder.WithMetrics(m),
	)
	proc := relay.NewProcessor(st, cls, fwd, cfg.FingerprintMaxChars, m)
	filter := models.ChatFilter{All: cfg.MonitorAll, ChatIDs: cfg.ChatIDs}
	if r, ok := dest.(messaging.ChatResolver); ok {
		destChat, err := r.ChatID()
		if err != nil {
			return fmt.Errorf("failed to resolve destination %q: %w", cfg.Destination, err)
		}
		filter.Exclude = append(filter.Exclude, destChat)
		slog.Debug("RunPipeline excluding destination chat from monitoring", "chat_id", destChat)
	}
	orch := relay.NewOrchestrator(src,
		relay.NewBackfill(src, proc, cfg.BackfillLimitPerChat, m),
		relay.NewLive(proc),
		relay.WithBackfill(cfg.BackfillEnabled),
		relay.WithBackfillWindow(cfg.BackfillWindow()),
		relay.WithChatFilter(filter),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := m.Serve(runCtx, cfg.MetricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		// The metrics listener lives only as long as the relay.
		defer stop()
		return orch.Run(runCtx, mode)
	})
	return g.Wait()
}

func whatsmeowLevel(level string) string {
	switch level {
	case "debug":
		// whatsmeow is very chatty at DEBUG.
		return "INFO"
	case "":
		return "INFO"
	default:
		return level
	}
}
