package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/database"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "trueswiftie",
		Short:         "TrueSwiftie 猜歌游戏后端",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := config.Init(configPath); err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			if err := logger.Init(&config.Get().Log); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Cleanup()
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认 ./config/config.yaml)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("trueswiftie v{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 和 WebSocket 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			server, err := NewServer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&host, "host", "H", "0.0.0.0", "监听地址 (覆盖 server.host)")
	fs.IntVarP(&port, "port", "p", 8000, "监听端口 (覆盖 server.port)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "迁移数据库表结构，可选导入曲库",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithModule("migrate")

			db, err := database.Open(&config.Get().Database, logger.WithModule("database"))
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.Close()
				}
			}()

			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			log.Info("数据库迁移完成")

			if seedFile == "" {
				return nil
			}
			f, err := os.Open(seedFile)
			if err != nil {
				return fmt.Errorf("打开曲库文件失败: %w", err)
			}
			defer f.Close()

			n, err := database.SeedCatalog(cmd.Context(), db, f)
			if err != nil {
				return err
			}
			log.Info("曲库导入完成", zap.String("file", seedFile), zap.Int("imported", n))
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "曲库 JSON 文件")
	return cmd
}

// newTokenCmd 签发访问令牌，账号体系在外部，开发和压测时使用
func newTokenCmd() *cobra.Command {
	var (
		userID   uint
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "为指定玩家签发访问令牌",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user-id 不能为空")
			}
			jwtCfg := config.Get().Security.JWT
			manager := utils.NewJWTManagerFromConfig(jwtCfg)
			if cmd.Flags().Changed("ttl") {
				manager = utils.NewJWTManager(jwtCfg.Secret, jwtCfg.Issuer, ttl, ttl)
			}

			token, err := manager.GenerateAccessToken(userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.UintVar(&userID, "user-id", 0, "玩家ID")
	fs.StringVar(&username, "username", "", "玩家名")
	fs.DurationVar(&ttl, "ttl", 0, "有效期 (默认 security.jwt.expire_hours)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "TrueSwiftie 猜歌游戏服务器\n")
			fmt.Fprintf(out, "版本: %s\n", Version)
			fmt.Fprintf(out, "构建时间: %s\n", BuildTime)
			fmt.Fprintf(out, "Git提交: %s\n", GitCommit)
			fmt.Fprintf(out, "Go版本: %s\n", runtime.Version())
			fmt.Fprintf(out, "操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
