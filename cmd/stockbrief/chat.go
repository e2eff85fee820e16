package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/zen-systems/stockbrief/pkg/chat"
	"github.com/zen-systems/stockbrief/pkg/config"
	"github.com/zen-systems/stockbrief/pkg/store"
	"go.uber.org/zap"
)

// openStores picks the durable store and session cache from the config.
// backend overrides the durable store choice: dynamodb, sqlite or memory.
func openStores(ctx context.Context, cfg *config.Config, backend string) (store.ConversationStore, store.SessionCache, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to close store", zap.Error(err))
			}
		}
	}

	if backend == "" {
		backend = "sqlite"
		if cfg.DynamoDBTable != "" {
			backend = "dynamodb"
		}
	}

	var durable store.ConversationStore
	switch backend {
	case "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		durable = store.NewDynamoStoreFromConfig(awsCfg, cfg.DynamoDBTable, logger)
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.ConfigDir, "chat.db")
		}
		s, err := store.OpenSQLite(path)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, s.Close)
		durable = s
	case "memory":
		durable = store.NewMemoryStore()
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q", backend)
	}
	if err := durable.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, nil, err
	}

	var cache store.SessionCache = store.NewMemoryCache()
	if cfg.RedisAddr != "" {
		r, err := store.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, r.Close)
		cache = r
	}

	logger.Debug("chat storage ready", zap.String("store", backend), zap.Bool("redis", cfg.RedisAddr != ""))
	return durable, cache, closeAll, nil
}

func chatCmd() *cobra.Command {
	var (
		conversationID string
		backend        string
		system         string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a model, keeping the conversation",
		Long: `Reads messages from stdin, one per line, and prints the model's replies.
The session is cached and persisted in batches; say "bye" to save and exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			adapters, err := createAdapters(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to create adapters: %w", err)
			}
			impl, model, err := selectAdapter(cfg, adapters)
			if err != nil {
				return err
			}

			durable, cache, closeStores, err := openStores(cmd.Context(), cfg, backend)
			if err != nil {
				return err
			}
			defer closeStores()

			svc, err := chat.NewService(chat.Options{
				Adapter:  impl,
				Model:    model,
				System:   system,
				Store:    durable,
				Cache:    cache,
				Settings: cfg.Settings,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			if conversationID == "" {
				conversationID = chat.NewConversationID()
			}
			return chatLoop(cmd.Context(), svc, conversationID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "resume a conversation by ID")
	cmd.Flags().StringVar(&backend, "store", "", "durable store: dynamodb, sqlite or memory")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	return cmd
}

func chatLoop(ctx context.Context, svc *chat.Service, id string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "conversation %s\n", id)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := svc.Send(ctx, id, text)
		if err != nil {
			return err
		}
		if reply.Reasoning != "" {
			fmt.Fprintf(out, "(thinking) %s\n\n", reply.Reasoning)
		}
		fmt.Fprintln(out, reply.Text)
		if reply.Ended {
			return nil
		}
	}
}

func sessionsCmd() *cobra.Command {
	var deleteID string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or delete cached chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.RedisAddr == "" {
				return fmt.Errorf("sessions are only listed from redis; set storage.redis_addr or STOCKBRIEF_REDIS_ADDR")
			}
			_, cache, closeStores, err := openStores(cmd.Context(), cfg, "memory")
			if err != nil {
				return err
			}
			defer closeStores()

			if deleteID != "" {
				if err := cache.Delete(cmd.Context(), deleteID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", deleteID)
				return nil
			}

			ids, err := cache.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&deleteID, "delete", "", "delete the session with this ID")
	return cmd
}
