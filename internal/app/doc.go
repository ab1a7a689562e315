// Package app composes the chat backend: it wires the user, chat, message
// and market services over a set of stores and owns the lifecycle of the
// background services (market refresher, websocket hub).
//
// Business rules live in internal/app/services and internal/app/market; the
// HTTP surface lives in internal/app/httpapi.
package app
