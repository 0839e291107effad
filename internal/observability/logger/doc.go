// Package logger expone un logger Zap singleton con scoping por contexto.
//
// Init se llama una sola vez en main; el resto del código usa From(ctx) o L().
// En "dev" se usa consola con colores, en "prod" JSON a stderr.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "datasov-bridge"})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Component("router"))
//	log.Info("event dispatched", logger.Chain(tag), logger.EventKind(kind))
package logger
