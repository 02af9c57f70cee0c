package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"DepositPay/internal/config"
	"DepositPay/internal/db"
	"DepositPay/internal/derivation"
	"DepositPay/internal/handler"
	"DepositPay/internal/listener"
	"DepositPay/internal/middleware"
	"DepositPay/internal/services"
	"DepositPay/utils"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "depositpay",
		Short:   "DepositPay - 非托管收款网关",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认 ./config.yaml）")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(deriveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDeriver(cfg *config.Config) (*derivation.Deriver, error) {
	master, err := solana.PrivateKeyFromBase58(cfg.Solana.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to parse master_secret as base58: %w", err)
	}
	return derivation.New(master)
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和支付监听器",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("配置无效: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := utils.NewLogger("depositpay").WithDebug(cfg.App.Debug)

	recipient, err := utils.ParseAccount(cfg.Solana.Recipient)
	if err != nil {
		return fmt.Errorf("solana.recipient: %w", err)
	}
	minAmount, err := cfg.MinAmount()
	if err != nil {
		return err
	}
	deriver, err := loadDeriver(cfg)
	if err != nil {
		return err
	}

	store, err := db.Open(cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("数据库初始化完成: driver=%s", cfg.Database.Driver)

	chain := services.NewSolanaClient(cfg.Solana.RPCURL, logger.Named("solana"))

	orders := services.NewOrderService(store, deriver, services.OrderConfig{
		MinAmount:  minAmount,
		Currencies: []string{cfg.Solana.Currency},
		Decimals:   cfg.Solana.Decimals,
	}, logger.Named("orders"))

	withdrawals := services.NewWithdrawalService(store, deriver, chain, services.WithdrawalConfig{
		FeeLamports: cfg.Solana.FeeLamports,
		Decimals:    cfg.Solana.Decimals,
		Timeout:     cfg.Solana.RPCTimeout,
	}, logger.Named("withdrawal"))

	detector := listener.New(listener.Config{
		WSURL:    cfg.Solana.WSURL,
		Interval: cfg.PollInterval(),
		Decimals: cfg.Solana.Decimals,
	}, store, chain, orders, logger.Named("listener"))

	status := services.NewStatusService(store, detector, Version, recipient.String(), minAmount.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		detector.Run(ctx)
	}()

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	// 不信任任何代理头，ClientIP 只取对端地址
	if err := r.SetTrustedProxies(nil); err != nil {
		return err
	}
	r.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())

	wss := cfg.Solana.WSURL
	if wss == "" {
		wss = cfg.Solana.RPCURL
	}
	handler.RegisterRoutes(r, handler.New(orders, withdrawals, status, handler.Options{
		Recipient:           recipient,
		WSS:                 wss,
		Decimals:            cfg.Solana.Decimals,
		Version:             Version,
		Explorer:            cfg.Solana.Explorer,
		WithdrawalLocalOnly: cfg.App.WithdrawalLocalOnly,
	}, logger.Named("http")))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务器启动于端口 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-listenerDone
		return fmt.Errorf("HTTP 服务器启动失败: %w", err)
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，开始优雅关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 服务器关闭失败: %v", err)
	}
	<-listenerDone
	logger.Info("服务已停止")
	return nil
}

func deriveCmd(configPath *string) *cobra.Command {
	var recipientFlag string
	cmd := &cobra.Command{
		Use:   "derive [orderId]",
		Short: "打印订单对应的收款账户",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if recipientFlag == "" {
				recipientFlag = cfg.Solana.Recipient
			}
			recipient, err := utils.ParseAccount(recipientFlag)
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			deriver, err := loadDeriver(cfg)
			if err != nil {
				return err
			}
			account, err := deriver.DeriveDepositAccount(recipient, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", account, utils.HexAccount(account))
			return nil
		},
	}
	cmd.Flags().StringVarP(&recipientFlag, "recipient", "r", "", "收款人账户（默认取配置 solana.recipient）")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "运行表结构迁移后退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := db.Open(cfg.StoreOptions())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "数据库迁移完成")
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	var decimals int32
	cmd := &cobra.Command{
		Use:   "inspect [base64Tx]",
		Short: "解析提现交易，校验签名并列出转账",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := utils.DecodeBase64Tx(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := tx.VerifySignatures(); err != nil {
				fmt.Fprintf(out, "签名校验失败: %v\n", err)
			}
			for _, sig := range tx.Signatures {
				fmt.Fprintf(out, "signature: %s\n", sig)
			}
			if len(tx.Message.AccountKeys) > 0 {
				fmt.Fprintf(out, "fee payer: %s\n", tx.Message.AccountKeys[0])
			}
			transfers, err := utils.SystemTransfers(tx)
			if err != nil {
				return err
			}
			for _, tr := range transfers {
				fmt.Fprintf(out, "transfer: %s -> %s %s\n", tr.From, tr.To, services.ToAmount(tr.Lamports, decimals))
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&decimals, "decimals", 9, "金额精度")
	return cmd
}
