// Package protocol defines the message schemas exchanged between the
// watchdog agent and the message bus.
package protocol

// Schema tags embedded in every bus payload so subscribers can version-gate.
const (
	SchemaHealth  = "vu.watchdog.health.v1"
	SchemaEvent   = "vu.watchdog.event.v1"
	SchemaCommand = "vu.watchdog.command.v1"
	SchemaAck     = "vu.watchdog.ack.v1"
	SchemaLease   = "vu.watchdog.lease.v1"
)

// OperationalMode is the single-valued health summary derived from conditions.
type OperationalMode string

const (
	ModeStarting     OperationalMode = "STARTING"
	ModeReady        OperationalMode = "READY"
	ModeDegraded     OperationalMode = "DEGRADED"
	ModeCritical     OperationalMode = "CRITICAL"
	ModeShuttingDown OperationalMode = "SHUTTING_DOWN"
)

// Severity is the event severity scale.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ConditionLevel is the severity class of a health condition.
type ConditionLevel string

const (
	LevelDegraded ConditionLevel = "DEGRADED"
	LevelCritical ConditionLevel = "CRITICAL"
)

// AckStatus is the terminal or intermediate state of a command acknowledgement.
type AckStatus string

const (
	AckReceived AckStatus = "RECEIVED"
	AckAccepted AckStatus = "ACCEPTED"
	AckApplied  AckStatus = "APPLIED"
	AckRejected AckStatus = "REJECTED"
	AckFailed   AckStatus = "FAILED"
	AckExpired  AckStatus = "EXPIRED"
)

// CommandType enumerates the standard command palette.
type CommandType string

const (
	CommandRestartVuos      CommandType = "RESTART_VUOS"
	CommandStartVuos        CommandType = "START_VUOS"
	CommandStopVuos         CommandType = "STOP_VUOS"
	CommandQuitWatchdog     CommandType = "QUIT_WATCHDOG"
	CommandSwitchBroker     CommandType = "SWITCH_BROKER"
	CommandRequestTelemetry CommandType = "REQUEST_TELEMETRY"
	CommandRequestConfig    CommandType = "REQUEST_CONFIG"
	CommandStartStream      CommandType = "START_STREAM"
	CommandStopStream       CommandType = "STOP_STREAM"
	CommandSetStreamQuality CommandType = "SET_STREAM_QUALITY"
)

// TelemetryRecord is an immutable per-tick snapshot assembled from collector caches.
type TelemetryRecord struct {
	Timestamp int64          `json:"timestamp"`
	WallID    string         `json:"wallId"`
	System    SystemMetrics  `json:"system"`
	Network   NetworkMetrics `json:"network"`
	App       AppMetrics     `json:"app"`
}

// GPUMetrics is optional: nil when no probe has ever succeeded.
type GPUMetrics struct {
	Name        string  `json:"name"`
	UsagePct    float64 `json:"usagePct"`
	VRAMUsedMB  float64 `json:"vramUsedMb"`
	VRAMTotalMB float64 `json:"vramTotalMb"`
	TempC       float64 `json:"tempC"`
}

// DiskIO captures throughput since the previous sample.
type DiskIO struct {
	ReadMBs  float64 `json:"readMbs"`
	WriteMBs float64 `json:"writeMbs"`
}

// EventLogSummary is a compact recent-error-log view.
type EventLogSummary struct {
	RecentCount int    `json:"recentCount"`
	LastMessage string `json:"lastMessage"`
	LastTimeMs  int64  `json:"lastTimeMs"`
}

// SystemMetrics is the `system` branch of TelemetryRecord.
type SystemMetrics struct {
	CPUPercent         float64         `json:"cpuPercent"`
	CPUModel           string          `json:"cpuModel"`
	CPUCores           int             `json:"cpuCores"`
	RAMTotalMB         float64         `json:"ramTotalMb"`
	RAMUsedMB          float64         `json:"ramUsedMb"`
	RAMPercent         float64         `json:"ramPercent"`
	GPU                *GPUMetrics     `json:"gpu"`
	DiskTotalGB        float64         `json:"diskTotalGb"`
	DiskUsedGB         float64         `json:"diskUsedGb"`
	DiskPercent        float64         `json:"diskPercent"`
	DiskIO             DiskIO          `json:"diskIo"`
	ThermalThrottling  bool            `json:"thermalThrottling"`
	PendingUpdateCount int             `json:"pendingUpdateCount"`
	EventLog           EventLogSummary `json:"eventLog"`
	UptimeSeconds      int64           `json:"uptimeSeconds"`
}

// NetworkMetrics is the `network` branch of TelemetryRecord.
type NetworkMetrics struct {
	InternetReachable    bool   `json:"internetReachable"`
	LatencyMs            *int64 `json:"latencyMs"`
	LocalServerReachable bool   `json:"localServerReachable"`
	ConnectedPeerCount   int    `json:"connectedPeerCount"`
}

// LockFileRecord mirrors the on-disk heartbeat lock used to detect a wedged app.
type LockFileRecord struct {
	PID            int   `json:"pid"`
	StartTime      int64 `json:"startTime"`
	LastHeartbeat  int64 `json:"lastHeartbeat"`
	HeartbeatAgeMs int64 `json:"heartbeatAgeMs"`
	Healthy        bool  `json:"healthy"`
}

// AppLogSummary is the target application's recent log tail.
type AppLogSummary struct {
	RecentCount int    `json:"recentCount"`
	LastMessage string `json:"lastMessage"`
	LastTimeMs  int64  `json:"lastTimeMs"`
}

// AppMetrics is the `app` branch of TelemetryRecord.
type AppMetrics struct {
	AppRunning      bool           `json:"appRunning"`
	ServerRunning   bool           `json:"serverRunning"`
	ServerVersion   string         `json:"serverVersion"`
	AppMemoryMB     *float64       `json:"appMemoryMb"`
	CrashCountToday int            `json:"crashCountToday"`
	Lock            LockFileRecord `json:"lock"`
	Log             AppLogSummary  `json:"log"`
}

// HealthPayload is the bounded, retained health summary.
type HealthPayload struct {
	Schema           string          `json:"schema"`
	Timestamp        int64           `json:"timestamp"`
	WallID           string          `json:"wallId"`
	Mode             OperationalMode `json:"mode"`
	ActiveConditions []string        `json:"activeConditions"`
	System           SystemSummary   `json:"system"`
	Network          NetworkMetrics  `json:"network"`
	App              AppSummary      `json:"app"`
}

// SystemSummary is a compact projection of SystemMetrics for retained publication.
type SystemSummary struct {
	CPUPercent  float64 `json:"cpuPercent"`
	RAMPercent  float64 `json:"ramPercent"`
	DiskPercent float64 `json:"diskPercent"`
}

// AppSummary is a compact projection of AppMetrics for retained publication.
type AppSummary struct {
	AppRunning      bool `json:"appRunning"`
	ServerRunning   bool `json:"serverRunning"`
	CrashCountToday int  `json:"crashCountToday"`
}

// EventRecord is emitted only on edge transitions and lifecycle markers.
type EventRecord struct {
	Schema   string         `json:"schema"`
	Ts       int64          `json:"ts"`
	WallID   string         `json:"wallId"`
	Type     string         `json:"type"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

// CommandEnvelope is the inbound command schema.
type CommandEnvelope struct {
	Schema    string         `json:"schema"`
	Ts        int64          `json:"ts"`
	CommandID string         `json:"commandId"`
	TTLMs     int64          `json:"ttlMs"`
	Type      CommandType    `json:"type"`
	Args      map[string]any `json:"args,omitempty"`
}

// LegacyEnvelope is the fixed shim for the legacy `control` topic.
type LegacyEnvelope struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// AckEnvelope is the command acknowledgement schema.
type AckEnvelope struct {
	Schema    string         `json:"schema"`
	Ts        int64          `json:"ts"`
	CommandID string         `json:"commandId"`
	Status    AckStatus      `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// LeasePayload is the retained lease record.
type LeasePayload struct {
	Schema    string `json:"schema"`
	Ts        int64  `json:"ts"`
	Owner     string `json:"owner"`
	ExpiresTs int64  `json:"expiresTs"`
}

// StreamQuality is the encode target for the media engine.
type StreamQuality struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
	Bitrate int `json:"bitrate"`
}

// StreamingStatusPayload mirrors StreamingState, retained on `stream/status`.
type StreamingStatusPayload struct {
	Status    string        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	StartedAt int64         `json:"startedAt,omitempty"`
	ViewerURL string        `json:"viewerUrl,omitempty"`
	Error     string        `json:"error,omitempty"`
	Monitor   int           `json:"monitor"`
	Quality   StreamQuality `json:"quality"`
	Available bool          `json:"available"`
}

// StatusPayload is the online/offline presence payload; the offline variant
// doubles as the broker Last-Will.
type StatusPayload struct {
	Status    string            `json:"status"`
	WallID    string            `json:"wallId"`
	Timestamp int64             `json:"timestamp"`
	Stream    StatusStreamField `json:"stream"`
}

// StatusStreamField is the embedded stream summary inside StatusPayload.
type StatusStreamField struct {
	Status string `json:"status"`
}

// ICEServer mirrors the RTCIceServer shape embedded in signaling payloads.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SDPDescription is an offer or answer body.
type SDPDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a single trickled candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// ReadyPayload is the retained offer-channel announcement.
type ReadyPayload struct {
	Type       string      `json:"type"`
	From       string      `json:"from"`
	WallID     string      `json:"wallId"`
	ICEServers []ICEServer `json:"iceServers"`
}

// OfferPayload is a targeted offer to a single viewer.
type OfferPayload struct {
	Type        string         `json:"type"`
	Description SDPDescription `json:"description"`
	ICEServers  []ICEServer    `json:"iceServers"`
	To          string         `json:"to"`
	From        string         `json:"from"`
}

// AnswerPayload is an inbound answer from a viewer.
type AnswerPayload struct {
	Description SDPDescription `json:"description"`
	To          string         `json:"to"`
	From        string         `json:"from"`
}

// CandidatePayload carries a single ICE candidate in either direction.
type CandidatePayload struct {
	Candidate ICECandidate `json:"candidate"`
	To        string       `json:"to"`
	From      string       `json:"from"`
}

// JoinPayload is sent by a viewer to request an offer.
type JoinPayload struct {
	From string `json:"from"`
}

// LeavePayload is sent by a viewer to tear down its session.
type LeavePayload struct {
	From string `json:"from"`
}
