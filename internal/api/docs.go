package api

// @title QuantBT API
// @version 1.0
// @description Rule-based equity backtesting service API

// @contact.name API Support

// @license.name MIT

// @host localhost:8082
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Auth
// @tag.description Token issuance operations

// @tag.name Strategies
// @tag.description Strategy catalog operations

// @tag.name Runs
// @tag.description Backtest run lifecycle operations

// @tag.name Alerts
// @tag.description Risk alert operations

// @tag.name Audit
// @tag.description Audit trail operations

// @tag.name WebSocket
// @tag.description Run progress streaming operations

// @tag.name Ops
// @tag.description Health and service status operations
