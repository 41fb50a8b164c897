package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Hostel Permit API",
        "description": "Outing and home permission workflow for hostel residents",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Auth", "description": "Login and session identity"},
        {"name": "Permissions", "description": "Outing and home requests through the approval chain"},
        {"name": "Passes", "description": "Gate passes issued on final approval"},
        {"name": "Notices", "description": "Per-user notification inbox"},
        {"name": "Realtime", "description": "Live workflow events"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Access token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user claims",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Claims", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions": {
            "post": {
                "tags": ["Permissions"],
                "summary": "Submit an outing or home request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/SubmitPermissionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A pending request already exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/mine": {
            "get": {
                "tags": ["Permissions"],
                "summary": "Student dashboard",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Requests and stats", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/queue": {
            "get": {
                "tags": ["Permissions"],
                "summary": "Approver dashboard",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Queue items and stats", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/{id}": {
            "get": {
                "tags": ["Permissions"],
                "summary": "Get a request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Outside caller scope", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/{id}/decision": {
            "post": {
                "tags": ["Permissions"],
                "summary": "Approve or deny at the current level",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not this approver's turn or scope", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/{id}/credentials/retry": {
            "post": {
                "tags": ["Passes"],
                "summary": "Retry pass issuance for an approved request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Request with credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Issuance failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/permissions/{id}/passes": {
            "get": {
                "tags": ["Passes"],
                "summary": "Short-lived download links for both passes",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Links", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/passes/{token}": {
            "get": {
                "tags": ["Passes"],
                "summary": "Download a pass PDF through a signed link",
                "produces": ["application/pdf"],
                "parameters": [
                    {"in": "path", "name": "token", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF file"},
                    "403": {"description": "Link invalid or expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/credentials/inspect": {
            "get": {
                "tags": ["Passes"],
                "summary": "Verify a scanned pass token at the gate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "token", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Inspection result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Malformed token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notices": {
            "get": {
                "tags": ["Notices"],
                "summary": "List notices for the caller",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "unread", "type": "boolean"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Notices", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notices/{id}/read": {
            "post": {
                "tags": ["Notices"],
                "summary": "Mark a notice as read",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Marked"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/realtime/ws": {
            "get": {
                "tags": ["Realtime"],
                "summary": "WebSocket stream of workflow events for the caller's scope",
                "parameters": [
                    {"in": "query", "name": "access_token", "type": "string"}
                ],
                "responses": {
                    "101": {"description": "Switching protocols"}
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
        "SubmitPermissionRequest": {
            "type": "object",
            "required": ["kind", "purpose"],
            "properties": {
                "kind": {"type": "string", "enum": ["outing", "home"]},
                "category": {"type": "string", "enum": ["normal", "emergency"]},
                "purpose": {"type": "string"},
                "parent_phone": {"type": "string"},
                "outing_date": {"type": "string", "example": "2026-03-02"},
                "out_time": {"type": "string", "example": "10:00"},
                "return_time": {"type": "string", "example": "18:00"},
                "going_date": {"type": "string"},
                "incoming_date": {"type": "string"},
                "home_town": {"type": "string"}
            }
        },
        "DecisionRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["approve", "deny"]},
                "remarks": {"type": "string"}
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
