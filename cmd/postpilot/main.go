// Command postpilot runs the autonomous posting bot: a scheduled post
// cycle, a scheduled mention cycle, and a small HTTP front door for
// health checks and manual triggers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/postpilot"
	"github.com/hupe1980/postpilot/admission"
	"github.com/hupe1980/postpilot/autopost"
	"github.com/hupe1980/postpilot/capability"
	"github.com/hupe1980/postpilot/config"
	"github.com/hupe1980/postpilot/engine"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/mention"
	"github.com/hupe1980/postpilot/publish"
	"github.com/hupe1980/postpilot/store"
	"github.com/hupe1980/postpilot/transport"
	anthropictransport "github.com/hupe1980/postpilot/transport/anthropic"
	openaitransport "github.com/hupe1980/postpilot/transport/openai"
)

const replyInstruction = "Now write your final reply text (max %d characters). Just the text, nothing else. If no reply is warranted, return empty text."

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "postpilot:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tp, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	capabilityGuide := registry.Describe()

	gate := admission.NewTierGate(admission.Tier(cfg.Admission.Tier), st, func(o *admission.TierGateOptions) {
		o.Logger = logger
	})

	xclient := publish.NewXClient(publish.Credentials{
		ConsumerKey:    cfg.Platform.ConsumerKey,
		ConsumerSecret: cfg.Platform.ConsumerSecret,
		AccessToken:    cfg.Platform.AccessToken,
		AccessSecret:   cfg.Platform.AccessSecret,
	}, cfg.Platform.UserID, func(o *publish.XClientOptions) {
		o.Logger = logger
	})

	postLoop := engine.New(tp, registry, func(o *engine.Options) {
		o.CharLimit = cfg.Bot.CharLimit
		o.Logger = logger
	})
	replyLoop := engine.New(tp, registry, func(o *engine.Options) {
		o.CharLimit = cfg.Bot.CharLimit
		o.FinalInstruction = fmt.Sprintf(replyInstruction, cfg.Bot.CharLimit)
		o.Logger = logger
	})

	poster := autopost.New(postLoop, xclient, st, gate, func(o *autopost.Options) {
		o.Persona = cfg.Bot.Persona
		o.CapabilityGuide = capabilityGuide
		o.HistoryLimit = cfg.Bot.PostHistoryLimit
		o.Logger = logger
	})

	selector := mention.NewSelector(tp, func(o *mention.SelectorOptions) {
		o.Persona = cfg.Bot.Persona
		o.Logger = logger
	})
	coordinator := mention.NewCoordinator(xclient, xclient, selector, replyLoop, st, gate, func(o *mention.CoordinatorOptions) {
		o.Persona = cfg.Bot.Persona
		o.CapabilityGuide = capabilityGuide
		o.AllowedAuthors = cfg.Bot.AllowedAuthors
		o.AuthorHistoryLimit = cfg.Bot.AuthorHistoryLimit
		o.Logger = logger
	})

	postInterval, err := time.ParseDuration(cfg.Bot.PostInterval)
	if err != nil {
		return fmt.Errorf("parse bot.post_interval: %w", err)
	}
	mentionInterval, err := time.ParseDuration(cfg.Bot.MentionInterval)
	if err != nil {
		return fmt.Errorf("parse bot.mention_interval: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &app{
		bot:    postpilot.New(poster, coordinator),
		logger: logger,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.tick(ctx, postInterval, app.runPost)
	}()
	go func() {
		defer wg.Done()
		app.tick(ctx, mentionInterval, app.runMentions)
	}()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("postpilot started",
		"addr", cfg.Server.Addr,
		"provider", cfg.LLM.Provider,
		"tier", cfg.Admission.Tier,
		"post_interval", postInterval.String(),
		"mention_interval", mentionInterval.String(),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	wg.Wait()
	return nil
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openaitransport.New(func(o *openaitransport.Options) {
			o.Model = cfg.LLM.Model
			o.APIKey = cfg.LLM.APIKey
			o.BaseURL = cfg.LLM.BaseURL
		}), nil
	case "anthropic":
		return anthropictransport.New(func(o *anthropictransport.Options) {
			o.Model = anthropic.Model(cfg.LLM.Model)
			o.APIKey = cfg.LLM.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}

func buildRegistry(cfg *config.Config, logger logging.Logger) (*capability.Registry, error) {
	registry := capability.NewRegistry(func(o *capability.RegistryOptions) {
		o.Logger = logger
	})

	if cfg.Search.Enabled && cfg.Search.APIKey != "" {
		search := capability.NewWebSearch(cfg.Search.APIKey, func(o *capability.WebSearchOptions) {
			o.Model = cfg.Search.Model
			o.MaxResults = cfg.Search.MaxResults
		})
		if err := registry.Register(search.Descriptor(), search.Func()); err != nil {
			return nil, err
		}
	}

	if cfg.Image.Enabled && cfg.Image.APIKey != "" {
		images := capability.NewImageGenerator(cfg.Image.APIKey, func(o *capability.ImageGeneratorOptions) {
			o.Model = cfg.Image.Model
			o.AssetsDir = cfg.Image.AssetsDir
		})
		if err := registry.Register(images.Descriptor(), images.Func()); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

type app struct {
	bot    *postpilot.Bot
	logger logging.Logger
}

func (a *app) tick(ctx context.Context, interval time.Duration, fn func(context.Context) any) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (a *app) runPost(ctx context.Context) any {
	summary, err := a.bot.Post(ctx)
	if err != nil {
		a.logger.Error("post cycle failed", "error", err.Error())
		return map[string]string{"error": err.Error()}
	}
	return summary
}

func (a *app) runMentions(ctx context.Context) any {
	summary, err := a.bot.ProcessMentions(ctx)
	if err != nil {
		a.logger.Error("mention cycle failed", "error", err.Error())
		return map[string]string{"error": err.Error()}
	}
	return summary
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /trigger-post", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.runPost(r.Context()))
	})
	mux.HandleFunc("POST /trigger-mentions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.runMentions(r.Context()))
	})
	mux.HandleFunc("GET /mentions/pending", func(w http.ResponseWriter, r *http.Request) {
		summary, err := a.bot.PendingMentions(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
