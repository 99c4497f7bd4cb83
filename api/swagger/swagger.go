package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Clinic Outcomes API",
        "description": "Monthly outcome criteria and activity duration reports across clinic sites",
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
        {"name": "Reports", "description": "Outcome criteria and activity duration reports"},
        {"name": "Exports", "description": "Asynchronous CSV, PDF and XLSX exports"},
        {"name": "Metrics", "description": "Service observability"}
    ],
    "paths": {
        "/reports/outcomes": {
            "get": {
                "tags": ["Reports"],
                "summary": "Criteria breakdown across sites",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "month", "in": "query", "type": "integer", "required": true, "minimum": 1, "maximum": 12},
                    {"name": "year", "in": "query", "type": "integer", "required": true},
                    {"name": "siteName", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid period", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Record store failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/outcomes/sites/{siteName}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Criteria breakdown for one site",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "siteName", "in": "path", "type": "string", "required": true},
                    {"name": "month", "in": "query", "type": "integer", "required": true, "minimum": 1, "maximum": 12},
                    {"name": "year", "in": "query", "type": "integer", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown site", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/activity": {
            "get": {
                "tags": ["Reports"],
                "summary": "Activity durations per patient or per site",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "month", "in": "query", "type": "integer", "minimum": 1, "maximum": 12},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "startDate", "in": "query", "type": "string", "format": "date"},
                    {"name": "endDate", "in": "query", "type": "string", "format": "date"},
                    {"name": "siteName", "in": "query", "type": "string"},
                    {"name": "building", "in": "query", "type": "string"},
                    {"name": "groupBy", "in": "query", "type": "string", "enum": ["patient", "site"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid scope", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Queue a report export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export job status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a finished export via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Aggregated service metrics",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ExportRequest": {
            "type": "object",
            "required": ["type", "format"],
            "properties": {
                "type": {"type": "string", "enum": ["outcomes", "site", "activity"]},
                "format": {"type": "string", "enum": ["csv", "pdf", "xlsx"]},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "siteName": {"type": "string"},
                "building": {"type": "string"},
                "startDate": {"type": "string", "format": "date"},
                "endDate": {"type": "string", "format": "date"},
                "groupBy": {"type": "string", "enum": ["patient", "site"]}
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
