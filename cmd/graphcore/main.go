package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "github.com/hanpama/graphcore/internal/config"
	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	logging "github.com/hanpama/graphcore/internal/logging"
	metrics "github.com/hanpama/graphcore/internal/metrics"
	otel "github.com/hanpama/graphcore/internal/otel"
	persisted "github.com/hanpama/graphcore/internal/persisted"
	query "github.com/hanpama/graphcore/internal/query"
	resolver "github.com/hanpama/graphcore/internal/resolver"
	schema "github.com/hanpama/graphcore/internal/schema"
	server "github.com/hanpama/graphcore/internal/server"
	subscription "github.com/hanpama/graphcore/internal/subscription"
	validation "github.com/hanpama/graphcore/internal/validation"
)

const rootUsage = `graphcore - GraphQL execution server & tools

USAGE:
  graphcore <command> [flags]

COMMANDS:
  serve            Run the HTTP/WebSocket GraphQL server with the demo chat schema
  validate         Validate a GraphQL document against a schema
  print-schema     Print the demo chat schema as SDL
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>                  YAML configuration file
  -server.addr <addr>             HTTP listen address (default: :8080)
  -server.pretty                  Pretty-print JSON responses
  -graphql.introspection <bool>   Enable GraphQL introspection (default: true)
  -graphql.debug                  Add debug messages to internal errors
  -log.level <level>              Log level (default: info)
  -otel.endpoint <addr>           OTLP collector endpoint
  (flags override values from the configuration file)
`

const validateUsage = `validate FLAGS:
  -schema <file>            GraphQL SDL file (default: demo chat schema)
  -query <file>             Document to validate (default: stdin)
  -max-depth <n>            Reject documents nested deeper than n (0: off)
  -max-complexity <n>       Reject documents costlier than n (0: off)
  (exits non-zero when the document is invalid)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphcore", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "validate":
		return cmdValidate(cmdArgs, os.Stdin, os.Stdout)
	case "print-schema":
		return cmdPrintSchema(os.Stdout)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "validate":
		fmt.Print(validateUsage)
	case "print-schema":
		fmt.Print("print-schema takes no flags\n")
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// serveConfig reads -config first, then lets the remaining flags override it.
func serveConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	path := fs.String("config", "", "YAML configuration file")
	addr := fs.String("server.addr", "", "HTTP listen address")
	pretty := fs.Bool("server.pretty", false, "Pretty-print JSON responses")
	introspection := fs.String("graphql.introspection", "", "Enable GraphQL introspection")
	debug := fs.Bool("graphql.debug", false, "Add debug messages to internal errors")
	level := fs.String("log.level", "", "Log level")
	otelEndpoint := fs.String("otel.endpoint", "", "OTLP collector endpoint")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return nil, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *pretty {
		cfg.Server.Pretty = true
	}
	switch *introspection {
	case "":
	case "true":
		cfg.GraphQL.Introspection = true
	case "false":
		cfg.GraphQL.Introspection = false
	default:
		return nil, fmt.Errorf("-graphql.introspection: invalid boolean %q", *introspection)
	}
	if *debug {
		cfg.GraphQL.Debug = true
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if *otelEndpoint != "" {
		cfg.OTel.Endpoint = *otelEndpoint
	}
	return cfg, cfg.Validate()
}

func cmdServe(args []string) error {
	cfg, err := serveConfig(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New()
	bus.OnPanic = func(event, recovered any) {
		logger.Error("event handler panicked", zap.String("event", fmt.Sprintf("%T", event)), zap.Any("recovered", recovered))
	}
	eventbus.Use(bus)
	defer eventbus.Use(nil)

	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		Endpoint: cfg.OTel.Endpoint,
		Service:  cfg.OTel.Service,
		Insecure: cfg.OTel.Insecure,
	}, bus)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := newApp(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: a.mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("GraphQL server listening", zap.String("addr", cfg.Server.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// app is the assembled chat server.
type app struct {
	mux     *http.ServeMux
	store   *chatStore
	pubsub  subscription.PubSub
	metrics *metrics.Metrics
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, bus *eventbus.Bus, logger *zap.Logger) (*app, error) {
	a := &app{store: newChatStore(), metrics: metrics.New()}
	detach := a.metrics.Attach(bus)
	a.closers = append(a.closers, func() error { detach(); return nil })

	var rdb redis.UniversalClient
	if cfg.Subscriptions.Backend == config.BackendRedis || cfg.Persisted.Backend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, rdb.Close)
	}

	switch cfg.Subscriptions.Backend {
	case config.BackendRedis:
		ps := subscription.NewRedisPubSub(ctx, rdb, subscription.WithRedisLogger(logger))
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := ps.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis pubsub stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() error { cancel(); return ps.Close() })
		a.pubsub = ps
	default:
		a.pubsub = subscription.NewMemoryPubSub(subscription.WithMemoryLogger(logger))
	}

	var store persisted.Store
	switch cfg.Persisted.Backend {
	case config.BackendRedis:
		store = persisted.NewRedisStore(rdb, persisted.WithTTL(cfg.Persisted.TTL.Duration()))
	default:
		lru, err := persisted.NewLRUStore(cfg.Persisted.Size)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("persisted store: %w", err)
		}
		store = lru
	}

	sch, err := schema.BuildFromSDL(chatSDL)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build schema: %w", err)
	}
	reg := resolver.NewRegistry(resolver.WithLogger(logger))
	a.store.resolvers(reg)

	var rules []validation.Rule
	if cfg.GraphQL.MaxDepth > 0 {
		rules = append(rules, validation.NewDepthLimiter(cfg.GraphQL.MaxDepth))
	}
	if cfg.GraphQL.MaxComplexity > 0 {
		rules = append(rules, validation.NewComplexityAnalyzer(cfg.GraphQL.MaxComplexity))
	}
	exec := query.NewExecutor(reg.Bind(sch), reg,
		query.WithRules(rules...),
		query.WithIntrospection(cfg.GraphQL.Introspection),
		query.WithFormatter(gqlerrors.NewFormatter(cfg.GraphQL.Debug, logger)),
		query.WithPersistedQueries(store),
		query.WithLogger(logger),
	)

	services := execctx.Services{pubsubService: a.pubsub}
	eventExec := server.NewEventExecutor(exec)
	subs := subscription.NewHandler(
		subscription.NewRegistry(a.pubsub, subscription.WithRegistryLogger(logger)),
		subscription.WithAuthenticator(authenticate),
		subscription.WithServices(services),
		subscription.WithLogger(logger),
		subscription.WithFallbackChannel(cfg.Subscriptions.FallbackChannel),
		subscription.WithEventExecutor(func(ctx context.Context, ec *execctx.ExecutionContext, sub subscription.SubscribePayload, event any) any {
			a.store.registerLoaders(ec)
			return eventExec(ctx, ec, sub, event)
		}),
	)

	opts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout.Duration()),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithIdleTimeout(cfg.Subscriptions.IdleTimeout.Duration()),
		server.WithLogger(logger),
		server.WithSubscriptions(subs),
		server.WithContextFactory(func(r *http.Request) *execctx.ExecutionContext {
			ec := execctx.New(bearerName(r.Header.Get("Authorization")), services)
			a.store.registerLoaders(ec)
			return ec
		}),
	}
	if cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.Server.CORSOrigins...))
	}

	a.mux = http.NewServeMux()
	a.mux.Handle("/graphql", server.New(exec, opts...))
	a.mux.Handle("/metrics", a.metrics.Handler())
	return a, nil
}

// bearerName treats the bearer token as the user name; the demo has no
// real identity provider. It returns nil for anonymous requests.
func bearerName(header string) any {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil
	}
	return token
}

// authenticate accepts anonymous connections; a token in the
// connection_init payload becomes the user name.
func authenticate(_ context.Context, payload map[string]any) (any, error) {
	for _, key := range []string{"authToken", "token", "Authorization", "authorization"} {
		v, ok := payload[key].(string)
		if !ok {
			continue
		}
		if name := strings.TrimPrefix(v, "Bearer "); name != "" {
			return name, nil
		}
		return nil, errors.New("empty credentials")
	}
	return nil, nil
}

func cmdPrintSchema(out io.Writer) error {
	sch, err := schema.BuildFromSDL(chatSDL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, schema.Render(sch))
	return err
}

func cmdValidate(args []string, stdin io.Reader, out io.Writer) error {
	schemaFile := ""
	queryFile := ""
	maxDepth := 0
	maxComplexity := 0
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&queryFile, "query", queryFile, "Document to validate")
	fs.IntVar(&maxDepth, "max-depth", maxDepth, "Maximum depth")
	fs.IntVar(&maxComplexity, "max-complexity", maxComplexity, "Maximum complexity")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, validateUsage)
		return err
	}

	sdl := chatSDL
	if schemaFile != "" {
		b, err := os.ReadFile(schemaFile)
		if err != nil {
			return err
		}
		sdl = string(b)
	}
	sch, err := schema.BuildFromSDL(sdl)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	var src []byte
	if queryFile != "" {
		src, err = os.ReadFile(queryFile)
	} else {
		src, err = io.ReadAll(stdin)
	}
	if err != nil {
		return err
	}

	var errs gqlerrors.List
	doc, perr := language.ParseQuery(string(src))
	if perr != nil {
		errs = gqlerrors.List{gqlerrors.FromParser(perr)}
	} else {
		var rules []validation.Rule
		if maxDepth > 0 {
			rules = append(rules, validation.NewDepthLimiter(maxDepth))
		}
		if maxComplexity > 0 {
			rules = append(rules, validation.NewComplexityAnalyzer(maxComplexity))
		}
		errs = validation.NewEngine(validation.WithRules(rules...)).Validate(context.Background(), sch, doc)
	}
	if len(errs) == 0 {
		_, err := fmt.Fprintln(out, "ok")
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(errs); err != nil {
		return err
	}
	return fmt.Errorf("document has %d validation error(s)", len(errs))
}
