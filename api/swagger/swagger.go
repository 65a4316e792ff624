package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LXC Ledger API",
        "description": "Classroom scoring ledger: grants, balances per bimester, tiers and badges.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Auth", "description": "Login and session tokens"},
        {"name": "Roster", "description": "Schools, classes and students"},
        {"name": "Catalog", "description": "Tasks, badges and penalties"},
        {"name": "Levels", "description": "Tier ladders per bimester"},
        {"name": "Ledger", "description": "Transactions, progress and rankings"},
        {"name": "Snapshot", "description": "State export, import and backups"},
        {"name": "Sync", "description": "Database synchronisation"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange a refresh token",
                "security": [],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user profile",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/classes/{id}/students/import": {
            "post": {
                "tags": ["Roster"],
                "summary": "Import students from CSV",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/catalog": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List catalog items",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Catalog"],
                "summary": "Create or replace a catalog item",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CatalogEntry"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/levels/{bimester}/tier": {
            "get": {
                "tags": ["Levels"],
                "summary": "Tier and next tier for a point total",
                "parameters": [
                    {"name": "bimester", "in": "path", "required": true, "type": "integer"},
                    {"name": "points", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/ledger/grants": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Apply a catalog item to students",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GrantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued for the database", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ledger/custom": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Record a custom bonus or penalty",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CustomGrantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued for the database", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transactions": {
            "get": {
                "tags": ["Ledger"],
                "summary": "List transactions",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "bimester", "in": "query", "type": "integer"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transactions/{id}": {
            "patch": {
                "tags": ["Ledger"],
                "summary": "Amend a transaction",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EditTransactionRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Ledger"],
                "summary": "Remove a transaction",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/students/{id}/progress": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Student balances and tiers per bimester",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/classes/{id}/ranking": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Class ranking for a bimester",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "bimester", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/snapshot": {
            "get": {
                "tags": ["Snapshot"],
                "summary": "Export the full state",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/snapshot/import": {
            "post": {
                "tags": ["Snapshot"],
                "summary": "Replace the full state",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Ledger batches still pending", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/status": {
            "get": {
                "tags": ["Sync"],
                "summary": "Pending and failed ledger batches",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sync/verify": {
            "get": {
                "tags": ["Sync"],
                "summary": "Compare cached balances against the transaction log",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sync/verify/durable": {
            "get": {
                "tags": ["Sync"],
                "summary": "Compare cached balances against the transaction log in the database",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Ledger batches still pending", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/repair": {
            "post": {
                "tags": ["Sync"],
                "summary": "Rebuild database balances from the database transaction log and reload",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Ledger batches still pending", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CatalogEntry": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["TASK", "BADGE", "PENALTY"]},
                "task": {"type": "object"},
                "badge": {"type": "object"},
                "penalty": {"type": "object"}
            }
        },
        "GrantRequest": {
            "type": "object",
            "required": ["kind", "item_id", "student_ids"],
            "properties": {
                "kind": {"type": "string", "enum": ["TASK", "BADGE", "PENALTY"]},
                "item_id": {"type": "string"},
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "bimester": {"type": "integer"},
                "overrides": {"type": "object", "additionalProperties": {"type": "integer"}},
                "note": {"type": "string"},
                "date": {"type": "string", "format": "date-time"}
            }
        },
        "CustomGrantRequest": {
            "type": "object",
            "required": ["student_ids", "amount", "description"],
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "type": {"type": "string"},
                "amount": {"type": "integer"},
                "description": {"type": "string"},
                "bimester": {"type": "integer"},
                "note": {"type": "string"},
                "date": {"type": "string", "format": "date-time"}
            }
        },
        "EditTransactionRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "integer"},
                "description": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
