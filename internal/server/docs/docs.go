// Package docs registers the OpenAPI document served under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/upload": {
            "post": {
                "description": "Load a CSV, TSV, XLSX, Arrow or Parquet file, classify its columns and store it in a new session",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Upload a dataset",
                "parameters": [
                    {"type": "file", "description": "Tabular data file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.UploadResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/query": {
            "post": {
                "description": "Check the question, plan an analysis, run it and describe the result",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["analysis"],
                "summary": "Query a dataset",
                "parameters": [
                    {"description": "Session and question", "name": "query", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.QueryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.QueryResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/summary/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Dataset summary",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "List sessions",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/server.SessionInfo"}}}
                }
            }
        },
        "/sessions/{id}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Delete a session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/export": {
            "get": {
                "description": "Download the classified dataset as an Arrow IPC stream (default), Parquet or JSON",
                "produces": ["application/octet-stream"],
                "tags": ["sessions"],
                "summary": "Export a dataset",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "arrow, parquet or json", "name": "format", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "server.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "server.QueryRequest": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "query": {"type": "string"}
            }
        },
        "server.QueryResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "filter_status": {"type": "string"},
                "response": {"type": "string"},
                "response_source": {"type": "string"},
                "instruction": {"type": "object"},
                "instruction_source": {"type": "string"},
                "chart": {"type": "object"},
                "summary": {"type": "array", "items": {"type": "object"}},
                "date_range": {"type": "object"},
                "records": {"type": "integer"}
            }
        },
        "server.UploadResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "filename": {"type": "string"},
                "rows": {"type": "integer"},
                "columns": {"type": "array", "items": {"type": "string"}},
                "column_metadata": {"type": "object"},
                "classification_source": {"type": "string"},
                "summary": {"type": "object"}
            }
        },
        "server.SessionInfo": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "filename": {"type": "string"},
                "rows": {"type": "integer"},
                "columns": {"type": "integer"},
                "created_at": {"type": "string"}
            }
        },
        "server.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "model": {"type": "string"},
                "model_available": {"type": "boolean"},
                "active_sessions": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "tabloom API",
	Description:      "Upload tabular data and ask questions about it in plain language.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
