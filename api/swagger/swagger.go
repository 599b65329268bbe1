package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SafeCircle API",
        "description": "Personal safety alerts, emergency circle notifications and session management",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Login, refresh token rotation and logout"},
        {"name": "SOS", "description": "Safety alert lifecycle"},
        {"name": "Audit", "description": "Caller's own audit records"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate refresh token",
                "description": "Reusing a rotated token revokes every token in its family (TOKEN_REVOKED).",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RefreshRequest"}}],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "TOKEN_INVALID, TOKEN_EXPIRED or TOKEN_REVOKED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke all sessions",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "204": {"description": "Logged out"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sos/trigger": {
            "post": {
                "tags": ["SOS"],
                "summary": "Trigger SOS",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "header", "name": "Idempotency-Key", "type": "string", "required": false},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/TriggerSOSRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "200": {"description": "Replayed by idempotency key", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SOS_ALREADY_ACTIVE or IDEMPOTENCY_KEY_CONFLICT", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sos/cancel": {
            "post": {
                "tags": ["SOS"],
                "summary": "Cancel SOS",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "payload", "required": false, "schema": {"$ref": "#/definitions/CancelSOSRequest"}}],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SOS_NOT_ACTIVE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sos/resolve": {
            "post": {
                "tags": ["SOS"],
                "summary": "Resolve SOS",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SOS_NOT_ACTIVE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sos/active": {
            "get": {
                "tags": ["SOS"],
                "summary": "Active SOS",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Active event or data null", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sos/history": {
            "get": {
                "tags": ["SOS"],
                "summary": "SOS history",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "query", "name": "limit", "type": "integer", "required": false}],
                "responses": {"200": {"description": "Events, newest first", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sos/history/export": {
            "get": {
                "tags": ["SOS"],
                "summary": "Export SOS history",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf"], "required": false},
                    {"in": "query", "name": "limit", "type": "integer", "required": false}
                ],
                "responses": {
                    "200": {"description": "Incident report file", "schema": {"type": "file"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sos/circle-status": {
            "get": {
                "tags": ["SOS"],
                "summary": "Circle status",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Linked contacts with an active alert", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/audit": {
            "get": {
                "tags": ["Audit"],
                "summary": "Audit records",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "correlationId", "type": "string", "required": false},
                    {"in": "query", "name": "resource", "type": "string", "required": false},
                    {"in": "query", "name": "resourceId", "type": "string", "required": false},
                    {"in": "query", "name": "limit", "type": "integer", "required": false}
                ],
                "responses": {
                    "200": {"description": "Records, newest first", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "RefreshRequest": {
            "type": "object",
            "required": ["refreshToken"],
            "properties": {"refreshToken": {"type": "string"}}
        },
        "TriggerSOSRequest": {
            "type": "object",
            "required": ["latitude", "longitude"],
            "properties": {
                "latitude": {"type": "number", "minimum": -90, "maximum": 90},
                "longitude": {"type": "number", "minimum": -180, "maximum": 180},
                "idempotencyKey": {"type": "string", "maxLength": 128}
            }
        },
        "CancelSOSRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string", "maxLength": 500}}
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "retryable": {"type": "boolean"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
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
