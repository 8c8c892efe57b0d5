package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/fhebridge/adapters/diary"
	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/config"
	"github.com/layer-3/fhebridge/transport/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if msg := core.Message(err); msg != core.Message(nil) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

var envFile string

var rootCmd = &cobra.Command{
	Use:           "fhebridge",
	Short:         "Confidential diary FHE bridge",
	Long:          `fhebridge encrypts inputs for and decrypts results from FHE contracts, on local development chains and on the public testnet.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading the environment")

	encryptCmd.Flags().String("contract", "", "contract the input is bound to")
	encryptCmd.Flags().String("owner", "", "account submitting the input (defaults to the signer)")
	encryptCmd.Flags().Uint64("value", 0, "plaintext value")
	encryptCmd.Flags().Uint8("bits", 8, "encrypted width: 8, 16, 32 or 64")
	_ = encryptCmd.MarkFlagRequired("contract")

	grantCmd.Flags().String("contract", "", "contract the grant covers")
	_ = grantCmd.MarkFlagRequired("contract")

	decryptCmd.Flags().String("contract", "", "contract holding the handles")
	decryptCmd.Flags().StringSlice("handle", nil, "handle to decrypt, repeatable")
	_ = decryptCmd.MarkFlagRequired("contract")
	_ = decryptCmd.MarkFlagRequired("handle")

	mintCmd.Flags().String("title", "", "entry title")
	mintCmd.Flags().String("description", "", "entry description")
	mintCmd.Flags().String("image", "", "entry image URI")
	mintCmd.Flags().String("category", "", "entry category")
	mintCmd.Flags().Bool("public", false, "show the entry in the public feed")
	mintCmd.Flags().Uint8("mood", 0, "mood score, encrypted before submission")
	_ = mintCmd.MarkFlagRequired("title")

	moodCmd.Flags().Int64("token", 0, "entry id")

	rootCmd.AddCommand(serveCmd, classifyCmd, encryptCmd, grantCmd, decryptCmd, mintCmd, moodCmd)
}

// run loads the configuration, wires the app and calls fn with a signal aware context
func run(fn func(ctx context.Context, a *app) error) error {
	files := []string{}
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.close(context.Background())

	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			if _, err := a.attach(ctx); err != nil {
				// The bridge stays usable; POST /chain attaches later
				a.logger.Warn("Initial attach failed", zap.String("rpc_url", a.cfg.RPCURL), zap.Error(err))
			}

			if a.cfg.Stage == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}
			var account http.Account
			if a.account != nil {
				account = a.account
			}
			router := http.SetupRouter(http.NewBridgeHandlers(a.bridge, rpc.Dialer, account, a.logger), a.logger.Named("http"))

			srv := &nethttp.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Listening", zap.String("addr", a.cfg.HTTPAddr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, nethttp.ErrServerClosed) {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.logger.Info("Shutting down")
			return srv.Shutdown(shutdownCtx)
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify the chain behind RPC_URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			s, err := a.attach(ctx)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"chainId": s.ChainID(),
				"mode":    s.Classification.Mode.String(),
			}
			if sb, ok := s.Classification.Mode.(core.Sandbox); ok {
				out["rpcUrl"] = s.Classification.RPCURL
				out["metadata"] = sb.Metadata
			}
			return printJSON(out)
		})
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a value for a contract call",
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := addressFlag(cmd, "contract")
		if err != nil {
			return err
		}
		value, _ := cmd.Flags().GetUint64("value")
		bits, _ := cmd.Flags().GetUint8("bits")

		return run(func(ctx context.Context, a *app) error {
			owner, err := addressFlag(cmd, "owner")
			if err != nil {
				return err
			}
			if owner == (common.Address{}) {
				account, err := a.requireAccount()
				if err != nil {
					return fmt.Errorf("--owner or %w", err)
				}
				owner = account.Address()
			}

			if _, err := a.attach(ctx); err != nil {
				return err
			}
			in, err := a.bridge.Encrypt(ctx, contract, owner, []core.Field{{Value: value, Width: core.Width(bits)}})
			if err != nil {
				return err
			}
			return printJSON(in)
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Sign or reuse a decryption grant for the signer",
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := addressFlag(cmd, "contract")
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, a *app) error {
			account, err := a.requireAccount()
			if err != nil {
				return err
			}
			if _, err := a.attach(ctx); err != nil {
				return err
			}
			g, err := a.bridge.Grant(ctx, contract, account.Address(), account)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"userAddress":       g.UserAddress,
				"contractAddresses": g.ContractAddresses,
				"publicKey":         g.PublicKey,
				"expiresAt":         g.ExpiresAt().UTC().Format(time.RFC3339),
			})
		})
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt handles the signer may read",
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := addressFlag(cmd, "contract")
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetStringSlice("handle")
		pairs := make([]core.HandleContractPair, len(raw))
		for i, s := range raw {
			h, err := core.HexToHandle(s)
			if err != nil {
				return fmt.Errorf("invalid handle %q: %w", s, err)
			}
			pairs[i] = core.HandleContractPair{Handle: h, ContractAddress: contract}
		}

		return run(func(ctx context.Context, a *app) error {
			account, err := a.requireAccount()
			if err != nil {
				return err
			}
			if _, err := a.attach(ctx); err != nil {
				return err
			}
			g, err := a.bridge.Grant(ctx, contract, account.Address(), account)
			if err != nil {
				return err
			}
			values, err := a.bridge.Decrypt(ctx, g, pairs)
			if err != nil {
				return err
			}
			return printJSON(values)
		})
	},
}

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Write a diary entry with an encrypted mood",
	RunE: func(cmd *cobra.Command, args []string) error {
		var e diary.Entry
		e.Title, _ = cmd.Flags().GetString("title")
		e.Description, _ = cmd.Flags().GetString("description")
		e.ImageURI, _ = cmd.Flags().GetString("image")
		e.Category, _ = cmd.Flags().GetString("category")
		e.IsPublic, _ = cmd.Flags().GetBool("public")
		mood, _ := cmd.Flags().GetUint8("mood")

		return run(func(ctx context.Context, a *app) error {
			account, err := a.requireAccount()
			if err != nil {
				return err
			}
			s, err := a.attach(ctx)
			if err != nil {
				return err
			}
			addr, ok := diary.AddressFor(s.ChainID())
			if !ok {
				return fmt.Errorf("no diary deployment on chain %d", s.ChainID())
			}
			if err := requireNodeAccount(ctx, s.Conn, account.Address()); err != nil {
				return err
			}

			in, err := a.bridge.Encrypt(ctx, addr, account.Address(), []core.Field{{Value: uint64(mood), Width: core.Width8}})
			if err != nil {
				return err
			}
			tx, err := diary.New(s.Conn, addr).Mint(ctx, account.Address(), e, in)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"tx": tx, "mood": in.Handles[0]})
		})
	},
}

var moodCmd = &cobra.Command{
	Use:   "mood",
	Short: "Read back the mood of one of the signer's entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetInt64("token")

		return run(func(ctx context.Context, a *app) error {
			account, err := a.requireAccount()
			if err != nil {
				return err
			}
			s, err := a.attach(ctx)
			if err != nil {
				return err
			}
			addr, ok := diary.AddressFor(s.ChainID())
			if !ok {
				return fmt.Errorf("no diary deployment on chain %d", s.ChainID())
			}

			h, err := diary.New(s.Conn, addr).MoodHandle(ctx, account.Address(), big.NewInt(token))
			if err != nil {
				return err
			}
			g, err := a.bridge.Grant(ctx, addr, account.Address(), account)
			if err != nil {
				return err
			}
			values, err := a.bridge.Decrypt(ctx, g, []core.HandleContractPair{{Handle: h, ContractAddress: addr}})
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"token": token, "mood": values[h]})
		})
	},
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}
