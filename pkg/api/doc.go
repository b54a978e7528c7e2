// Package api defines the shared data model of the flow runtime
//
// This package contains node and flow definitions, the wire graph document
// accepted by deploys, the message envelope passed between nodes, users and
// permissions, and the request and response bodies of the admin HTTP API
package api
