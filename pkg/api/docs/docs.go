// Package docs holds the generated OpenAPI description of the diagnostics API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/gordonmurray/eth-blockchain-pipeline"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Reports whether the poll loop is running",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Indexer is running", "schema": {"$ref": "#/definitions/api.HealthResponse"}},
                    "503": {"description": "Indexer is not running", "schema": {"$ref": "#/definitions/api.HealthResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Current state of the poll loop, checkpoint and chain head",
                "produces": ["application/json"],
                "tags": ["Status"],
                "summary": "Poll loop status",
                "responses": {
                    "200": {"description": "Poll loop status", "schema": {"$ref": "#/definitions/api.StatusResponse"}}
                }
            }
        },
        "/purchases": {
            "get": {
                "description": "Indexed purchases ordered by block number and log index",
                "produces": ["application/json"],
                "tags": ["Purchases"],
                "summary": "List purchases",
                "parameters": [
                    {"type": "string", "description": "Filter by buyer address", "name": "buyer", "in": "query"},
                    {"type": "string", "description": "Filter by product id (decimal)", "name": "product_id", "in": "query"},
                    {"type": "integer", "description": "Lowest block number", "name": "from_block", "in": "query"},
                    {"type": "integer", "description": "Highest block number", "name": "to_block", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Maximum number of purchases to return", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Number of purchases to skip", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Purchases with pagination info", "schema": {"$ref": "#/definitions/api.PurchasesResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/stats": {
            "get": {
                "description": "Row counts and block bounds of the stored data",
                "produces": ["application/json"],
                "tags": ["Stats"],
                "summary": "Storage statistics",
                "responses": {
                    "200": {"description": "Storage statistics", "schema": {"$ref": "#/definitions/api.StatsResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "api.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "state": {"type": "string"},
                "checkpoint": {"type": "integer"},
                "lag_blocks": {"type": "integer"},
                "timestamp": {"type": "string"}
            }
        },
        "api.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "running": {"type": "boolean"},
                "checkpoint": {"type": "integer"},
                "checkpoint_hash": {"type": "string"},
                "fresh": {"type": "boolean"},
                "head": {"type": "integer"},
                "lag_blocks": {"type": "integer"},
                "cycles": {"type": "integer"},
                "last_cycle": {"type": "string"},
                "last_error": {"type": "string"},
                "last_error_at": {"type": "string"}
            }
        },
        "api.Purchase": {
            "type": "object",
            "properties": {
                "tx_hash": {"type": "string"},
                "log_index": {"type": "integer"},
                "block_number": {"type": "integer"},
                "buyer": {"type": "string"},
                "product_id": {"type": "string"},
                "price": {"type": "string"},
                "quantity": {"type": "integer"},
                "timestamp": {"type": "integer"}
            }
        },
        "api.PaginationResult": {
            "type": "object",
            "properties": {
                "limit": {"type": "integer"},
                "offset": {"type": "integer"},
                "has_more": {"type": "boolean"}
            }
        },
        "api.PurchasesResponse": {
            "type": "object",
            "properties": {
                "purchases": {"type": "array", "items": {"$ref": "#/definitions/api.Purchase"}},
                "pagination": {"$ref": "#/definitions/api.PaginationResult"}
            }
        },
        "api.StatsResponse": {
            "type": "object",
            "properties": {
                "raw_logs": {"type": "integer"},
                "purchases": {"type": "integer"},
                "distinct_buyers": {"type": "integer"},
                "min_block": {"type": "integer"},
                "max_block": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Purchase Indexer API",
	Description:      "Read-only view over indexed PurchaseMade events and the state of the poll loop",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
