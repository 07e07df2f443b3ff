package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/backend"
	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/lockfile"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/recovery"
	"github.com/BTreeMap/CoachPipe/internal/scheduler"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/transcribe"
	"github.com/BTreeMap/CoachPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/CoachPipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

// transport is a started messaging service plus what the rest of the wiring needs from it.
type transport struct {
	svc     messaging.Service
	webhook http.Handler
	closeFn func()
}

// run wires every module and blocks until ctx is cancelled or a service fails.
func run(ctx context.Context, flags Flags) error {
	if usesStateDir(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir, *flags.transport)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	bc, err := backend.NewClient(buildBackendOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	tr, err := buildTransport(ctx, flags)
	if err != nil {
		return err
	}
	if tr.closeFn != nil {
		defer tr.closeFn()
	}

	machineOpts := []flow.MachineOption{
		flow.WithChannel(tr.svc.Name()),
		flow.WithBirthDate(*flags.birthDate),
		flow.WithTypingNotifier(tr.svc),
	}
	voice, err := buildTranscriber(ctx, flags)
	if err != nil {
		return err
	}
	if voice != nil {
		machineOpts = append(machineOpts, flow.WithTranscriber(voice))
		if c, ok := voice.(io.Closer); ok {
			defer c.Close()
		}
	}
	machine := flow.NewMachine(bc, machineOpts...)

	var dispatchOpts []flow.DispatcherOption
	outbox, hasOutbox := st.(store.OutboxRepo)
	if hasOutbox {
		dispatchOpts = append(dispatchOpts, flow.WithReplyQueue(outbox))
	} else {
		slog.Info("Store has no outbox, undelivered replies will be dropped")
	}
	dispatcher := flow.NewDispatcher(machine, flow.NewStoreBasedSessionManager(st), tr.svc, dispatchOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	hooks, err := scheduler.NewHookRegistry(sched, fireHook(dispatcher), buildHookOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to configure hooks: %w", err)
	}
	hooks.SetContext(ctx)
	dispatcher.SetHookScheduler(hooks)

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable(recovery.NewHookRecovery(st, hooks))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors", "error", err)
	}

	apiOpts := append(buildAPIOptions(flags),
		api.WithTransitionGraph(machine.TransitionGraph()),
		api.WithHookCounter(hooks),
	)
	if tr.webhook != nil {
		apiOpts = append(apiOpts,
			api.WithTwilioWebhook(tr.webhook),
			api.WithTwilioSignature(*flags.twilioToken, *flags.twilioHookURL),
		)
	}
	server := api.NewServer(st, dispatcher, apiOpts...)
	handler := messaging.NewResponseHandler(tr.svc, dispatcher, messaging.WithDedupRepo(st))

	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", tr.svc.Name(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return handler.Run(gctx) })
	if hasOutbox {
		sender := store.NewOutboxSender(outbox, tr.svc.SendReply)
		if err := sender.RecoverStale(ctx); err != nil {
			slog.Warn("Outbox recovery failed", "error", err)
		}
		g.Go(func() error { return sender.Run(gctx) })
	}
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return tr.svc.Stop()
	})
	slog.Info("CoachPipe running", "transport", tr.svc.Name(), "scheduled_hooks", hooks.Len())
	return g.Wait()
}

// fireHook adapts the dispatcher to the scheduler callback. Orphaned hooks are cancelled by the
// dispatcher itself, so a missing session is not reported as a failure.
func fireHook(d *flow.Dispatcher) scheduler.FireFunc {
	return func(ctx context.Context, userID string, hook models.HookKind) error {
		res, err := d.Fire(ctx, userID, hook)
		if err != nil {
			if errors.Is(err, flow.ErrNoSession) {
				slog.Info("Hook fired for missing session, cancelled", "userID", userID, "hook", hook)
				return nil
			}
			return err
		}
		slog.Debug("Hook fired", "userID", userID, "hook", hook, "result", res.Kind)
		return nil
	}
}

func buildTransport(ctx context.Context, flags Flags) (transport, error) {
	switch strings.ToLower(*flags.transport) {
	case "tg", "telegram":
		if *flags.tgToken == "" {
			return transport{}, fmt.Errorf("telegram transport requires TG_BOT_TOKEN")
		}
		bot, err := messaging.NewTelegramBot(*flags.tgToken)
		if err != nil {
			return transport{}, fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		return transport{svc: messaging.NewTelegramService(bot)}, nil
	case "wa", "whatsapp":
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return transport{}, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return transport{svc: messaging.NewWhatsAppService(client), closeFn: client.Disconnect}, nil
	case "twilio":
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return transport{}, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return transport{svc: svc, webhook: http.HandlerFunc(svc.TwilioWebhookHandler)}, nil
	default:
		return transport{}, fmt.Errorf("unknown transport %q (want tg, wa or twilio)", *flags.transport)
	}
}

// buildTranscriber returns nil when voice notes are disabled. Without an explicit provider,
// Whisper is used if an OpenAI key is present.
func buildTranscriber(ctx context.Context, flags Flags) (transcribe.Transcriber, error) {
	provider := strings.ToLower(*flags.transcriber)
	switch {
	case provider == "none":
		return nil, nil
	case provider == "" && *flags.openaiKey == "":
		slog.Info("No transcriber configured, voice notes will be declined")
		return nil, nil
	}
	t, err := transcribe.New(ctx, provider, buildTranscribeOptions(flags)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcriber: %w", err)
	}
	return t, nil
}
