package swagger

import "github.com/swaggo/swag"

// docTemplate is served under /docs. Infra probes (/health, /ready, /metrics)
// live outside basePath and are not listed.
const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Clinical IAM API",
        "description": "Identity, access and audit engine for clinical records",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "End-user sessions"},
        {"name": "Accounts", "description": "Account approval workflow"},
        {"name": "Alerts", "description": "Security alerts"},
        {"name": "Access", "description": "Clinical access decisions"},
        {
            "name": "Admin Authentication",
            "description": "Administrator sessions"
        },
        {"name": "Roles", "description": "Role and permission catalogue"},
        {"name": "Audit", "description": "Audit trail export"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a PENDING account",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate refresh token",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke one refresh token",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LogoutRequest"}}],
                "responses": {"204": {"description": "No Content"}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/auth/logout-all": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke every refresh token of the caller",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change password",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current principal",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/accounts": {
            "get": {
                "tags": ["Accounts"],
                "summary": "List accounts",
                "parameters": [{"name": "status", "in": "query", "type": "string"}, {"name": "role_id", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "page_size", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/accounts/{id}": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Get account",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "User ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/accounts/{id}/approve": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Approve account",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "User ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/accounts/{id}/reject": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Reject account",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "User ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/accounts/{id}/suspend": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Suspend account and revoke its sessions",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "User ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/alerts": {
            "get": {
                "tags": ["Alerts"],
                "summary": "List security alerts",
                "parameters": [{"name": "user_id", "in": "query", "type": "string"}, {"name": "unresolved", "in": "query", "type": "boolean"}, {"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/alerts/evaluate/{userId}": {
            "post": {
                "tags": ["Alerts"],
                "summary": "Evaluate recent activity of a user",
                "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string", "description": "User ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/alerts/{id}/resolve": {
            "post": {
                "tags": ["Alerts"],
                "summary": "Resolve alert",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "Alert ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/access/check": {
            "post": {
                "tags": ["Access"],
                "summary": "Decide clinical record access",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AccessCheckRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/access/assignments": {
            "get": {
                "tags": ["Access"],
                "summary": "List caller assignments",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/auth/login": {
            "post": {
                "tags": ["Admin Authentication"],
                "summary": "Authenticate administrator",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/auth/refresh": {
            "post": {
                "tags": ["Admin Authentication"],
                "summary": "Rotate administrator refresh token",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/auth/logout": {
            "post": {
                "tags": ["Admin Authentication"],
                "summary": "Revoke administrator refresh token",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LogoutRequest"}}],
                "responses": {"204": {"description": "No Content"}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/roles": {
            "get": {
                "tags": ["Roles"],
                "summary": "List roles",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            },
            "post": {
                "tags": ["Roles"],
                "summary": "Create role",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRoleRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/roles/{id}": {
            "put": {
                "tags": ["Roles"],
                "summary": "Update role",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "Role ID"}, {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRoleRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            },
            "delete": {
                "tags": ["Roles"],
                "summary": "Delete role",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "Role ID"}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/roles/{id}/permissions/{permissionId}": {
            "put": {
                "tags": ["Roles"],
                "summary": "Grant permission",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "Role ID"}, {"name": "permissionId", "in": "path", "required": true, "type": "string", "description": "Permission ID"}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            },
            "delete": {
                "tags": ["Roles"],
                "summary": "Revoke permission",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string", "description": "Role ID"}, {"name": "permissionId", "in": "path", "required": true, "type": "string", "description": "Permission ID"}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/permissions": {
            "get": {
                "tags": ["Roles"],
                "summary": "List permissions",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            },
            "post": {
                "tags": ["Roles"],
                "summary": "Create permission",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePermissionRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}]
            }
        },
        "/admin/audit/export": {
            "get": {
                "tags": ["Audit"],
                "summary": "Export audit trail",
                "parameters": [{"name": "format", "in": "query", "type": "string"}, {"name": "from", "in": "query", "type": "string"}, {"name": "to", "in": "query", "type": "string"}, {"name": "action", "in": "query", "type": "string"}, {"name": "user_id", "in": "query", "type": "string"}, {"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}},
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"]
            }
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "role_id": {"type": "string"}
            },
            "required": ["email", "password", "role_id"]
        },
        "LoginRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}},
            "required": ["email", "password"]
        },
        "RefreshTokenRequest": {
            "type": "object",
            "properties": {"refresh_token": {"type": "string"}},
            "required": ["refresh_token"]
        },
        "LogoutRequest": {
            "type": "object",
            "properties": {"refresh_token": {"type": "string"}},
            "required": ["refresh_token"]
        },
        "ChangePasswordRequest": {
            "type": "object",
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"}
            },
            "required": ["old_password", "new_password"]
        },
        "AccessCheckRequest": {
            "type": "object",
            "properties": {"permission": {"type": "string"}, "owner_id": {"type": "string"}},
            "required": ["permission"]
        },
        "CreateRoleRequest": {
            "type": "object",
            "properties": {"name": {"type": "string"}, "description": {"type": "string"}},
            "required": ["name"]
        },
        "UpdateRoleRequest": {
            "type": "object",
            "properties": {"name": {"type": "string"}, "description": {"type": "string"}}
        },
        "CreatePermissionRequest": {
            "type": "object",
            "properties": {"name": {"type": "string"}, "description": {"type": "string"}},
            "required": ["name"]
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
