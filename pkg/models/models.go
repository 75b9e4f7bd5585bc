// Package models defines the shared wire and data types for the rigmate
// chat service: outbound protocol frames, query requests and responses,
// search results, and aggregate statistics.
package models

import "time"

// MessageType identifies the kind of an outbound protocol message.
type MessageType string

const (
	// MessageQuery is an inbound user query (logged, never sent outbound).
	MessageQuery MessageType = "query"

	// MessageLog is an informational progress update during query execution.
	MessageLog MessageType = "log"

	// MessageToken is a single streamed token fragment of the answer.
	MessageToken MessageType = "token"

	// MessageFinalOutput carries the terminal answer of a query.
	MessageFinalOutput MessageType = "final_output"

	// MessageError reports a classified failure to the client.
	MessageError MessageType = "error"

	// MessageHeartbeat is the periodic liveness ping.
	MessageHeartbeat MessageType = "heartbeat"

	// MessageConnectionStatus reports connection lifecycle changes,
	// including the initial session id assignment.
	MessageConnectionStatus MessageType = "connection_status"
)

// Message is a single outbound protocol frame. Messages are immutable once
// constructed and are delivered to exactly one session, in production order.
type Message struct {
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage constructs an outbound message stamped with the current time.
func NewMessage(t MessageType, content string, metadata map[string]any) *Message {
	return &Message{
		Type:      t,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// QueryRequest is the decoded inbound frame for a user query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is the terminal result of a successfully processed query.
type QueryResponse struct {
	Output         string        `json:"output"`
	ProcessingTime time.Duration `json:"processing_time"`
	SearchCount    int           `json:"search_results_count"`
}

// SearchResult is one normalized hit from the external search provider.
type SearchResult struct {
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// Turn is a single conversation turn held in session memory.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RegistryStats summarizes the live state of the connection registry.
type RegistryStats struct {
	ActiveConnections    int     `json:"active_connections"`
	ProcessingSessions   int     `json:"processing_sessions"`
	MaxConnections       int     `json:"max_connections"`
	AvgConnectionSeconds float64 `json:"average_connection_duration_seconds"`
	TotalMessagesSent    int64   `json:"total_messages_sent"`
}

// MemoryStats summarizes the conversation memory store.
type MemoryStats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalTurns     int `json:"total_turns"`
}

// CallStats holds cumulative counters for an outbound caller. Counters are
// monotonic for the process lifetime.
type CallStats struct {
	Attempts  int64 `json:"total_searches"`
	Successes int64 `json:"successful_searches"`
	Failures  int64 `json:"failed_searches"`
}
