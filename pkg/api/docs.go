// Package api serves the read-only diagnostics API of the purchase indexer.
// @title Purchase Indexer API
// @version 1.0
// @description Read-only view over indexed PurchaseMade events and the state of the poll loop
// @contact.name API Support
// @contact.url https://github.com/gordonmurray/eth-blockchain-pipeline
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
