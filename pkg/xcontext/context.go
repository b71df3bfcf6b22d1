package xcontext

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/questx-lab/rewards-engine/config"
	"github.com/questx-lab/rewards-engine/internal/model"
	"github.com/questx-lab/rewards-engine/pkg/authenticator"
	"github.com/questx-lab/rewards-engine/pkg/logger"
	"gorm.io/gorm"
)

type (
	configsKey     struct{}
	loggerKey      struct{}
	dbKey          struct{}
	txKey          struct{}
	userIDKey      struct{}
	userHandleKey  struct{}
	httpRequestKey struct{}
	startTimeKey   struct{}
	errorKey       struct{}
	tokenEngineKey struct{}
	snowflakeKey   struct{}
	httpClientKey  struct{}
)

func WithConfigs(ctx context.Context, cfg config.Configs) context.Context {
	return context.WithValue(ctx, configsKey{}, cfg)
}

func Configs(ctx context.Context) config.Configs {
	return ctx.Value(configsKey{}).(config.Configs)
}

func WithLogger(ctx context.Context, l logger.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func Logger(ctx context.Context) logger.Logger {
	return ctx.Value(loggerKey{}).(logger.Logger)
}

func WithDB(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, dbKey{}, db)
}

// DB returns the current database transaction if one began in this context,
// otherwise the root gorm.DB.
func DB(ctx context.Context) *gorm.DB {
	if tx := ctx.Value(txKey{}); tx != nil {
		return tx.(*gorm.DB)
	}

	return ctx.Value(dbKey{}).(*gorm.DB)
}

func WithDBTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, DB(ctx).Begin())
}

func WithCommitDBTransaction(ctx context.Context) context.Context {
	if tx := ctx.Value(txKey{}); tx != nil {
		tx.(*gorm.DB).Commit()
	}

	return context.WithValue(ctx, txKey{}, nil)
}

func WithRollbackDBTransaction(ctx context.Context) context.Context {
	if tx := ctx.Value(txKey{}); tx != nil {
		tx.(*gorm.DB).Rollback()
	}

	return context.WithValue(ctx, txKey{}, nil)
}

func WithRequestUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func RequestUserID(ctx context.Context) string {
	if id := ctx.Value(userIDKey{}); id != nil {
		return id.(string)
	}

	return ""
}

func WithRequestUserHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, userHandleKey{}, handle)
}

func RequestUserHandle(ctx context.Context) string {
	if handle := ctx.Value(userHandleKey{}); handle != nil {
		return handle.(string)
	}

	return ""
}

func WithHTTPRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, httpRequestKey{}, r)
}

func HTTPRequest(ctx context.Context) *http.Request {
	if r := ctx.Value(httpRequestKey{}); r != nil {
		return r.(*http.Request)
	}

	return nil
}

func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

func StartTime(ctx context.Context) time.Time {
	if t := ctx.Value(startTimeKey{}); t != nil {
		return t.(time.Time)
	}

	return time.Time{}
}

func WithError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, errorKey{}, err)
}

func Error(ctx context.Context) error {
	if err := ctx.Value(errorKey{}); err != nil {
		return err.(error)
	}

	return nil
}

func WithTokenEngine(ctx context.Context, engine authenticator.TokenEngine[model.AccessToken]) context.Context {
	return context.WithValue(ctx, tokenEngineKey{}, engine)
}

func TokenEngine(ctx context.Context) authenticator.TokenEngine[model.AccessToken] {
	return ctx.Value(tokenEngineKey{}).(authenticator.TokenEngine[model.AccessToken])
}

func WithHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, httpClientKey{}, client)
}

func HTTPClient(ctx context.Context) *http.Client {
	if client := ctx.Value(httpClientKey{}); client != nil {
		return client.(*http.Client)
	}

	return http.DefaultClient
}

func WithSnowFlake(ctx context.Context, node *snowflake.Node) context.Context {
	return context.WithValue(ctx, snowflakeKey{}, node)
}

func SnowFlake(ctx context.Context) *snowflake.Node {
	return ctx.Value(snowflakeKey{}).(*snowflake.Node)
}
