package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/auth"
	"github.com/zhouzirui/ai-workbench/backend/internal/config"
	"github.com/zhouzirui/ai-workbench/backend/internal/logging"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/driver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("无法加载 .env，改用系统环境变量")
	}

	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yml"), "配置文件路径")
	subject := flag.String("subject", "", "外部身份 subject (JWT sub)")
	email := flag.String("email", "", "账号邮箱，可选")
	ttl := flag.Duration("ttl", 0, "令牌有效期，默认使用配置中的 JWT_TOKEN_TTL")
	timeout := flag.Duration("timeout", 30*time.Second, "存储操作超时时间")
	flag.Parse()

	if strings.TrimSpace(*subject) == "" {
		flag.Usage()
		logrus.Fatal("请通过 -subject 指定账号")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("配置加载失败")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.SetOutput(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := driver.Open(ctx, cfg.Store, logging.Component(logger, "store"))
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	account, err := st.UpsertAccount(ctx, user.Account{Subject: strings.TrimSpace(*subject), Email: *email})
	if err != nil {
		logger.WithError(err).Fatal("failed to provision account")
	}
	logger.WithFields(logrus.Fields{"account_id": account.ID, "subject": account.Subject}).Info("account ready")

	tokenTTL := *ttl
	if tokenTTL <= 0 {
		tokenTTL = cfg.Auth.TokenTTL
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	token, err := verifier.IssueToken(user.Identity{Subject: account.Subject, Email: account.Email}, tokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("failed to sign token")
	}

	fmt.Println(token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
