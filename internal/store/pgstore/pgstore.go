// Package pgstore is the Postgres-backed Datastore implementation.
// It opens through database/sql using the pgx stdlib driver and queries
// through sqlx. Cameras, incidents, plans and timeline events go through
// unexported row DTOs with db tags, the usual split between wire and
// storage representations; notification policies, config updates and
// onboarding configs are read and written as model types, which carry
// db tags of their own.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/store"
)

// Store is a sqlx/pgx-backed Datastore.
type Store struct {
	db     *sqlx.DB
	logger logging.Logger
}

var _ store.Datastore = (*Store)(nil)

// Open connects to Postgres at dsn and wraps it in a Store. The caller
// owns the returned Store and should call Close on shutdown.
func Open(ctx context.Context, dsn string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	db := sqlx.NewDb(conn, "pgx")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type cameraRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	RoomType       string         `db:"room_type"`
	BedPolygon     []byte         `db:"bed_polygon"`
	PrimaryContact string         `db:"primary_contact"`
	BackupContact  string         `db:"backup_contact"`
	VoiceEnabled   bool           `db:"voice_enabled"`
	SMSEnabled     bool           `db:"sms_enabled"`
	RiskScore      float64        `db:"risk_score"`
	LastSeen       sql.NullTime   `db:"last_seen"`
	Config         []byte         `db:"config"`
	Status         string         `db:"status"`
	CreatedAt      sql.NullTime   `db:"created_at"`
}

func cameraToRow(c model.Camera) (cameraRow, error) {
	bedPolygon, err := json.Marshal(c.BedPolygon)
	if err != nil {
		return cameraRow{}, fmt.Errorf("pgstore: marshal bed_polygon: %w", err)
	}
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return cameraRow{}, fmt.Errorf("pgstore: marshal config: %w", err)
	}
	return cameraRow{
		ID:             c.ID,
		Name:           c.Name,
		RoomType:       c.RoomType,
		BedPolygon:     bedPolygon,
		PrimaryContact: c.PrimaryContact,
		BackupContact:  c.BackupContact,
		VoiceEnabled:   c.VoiceEnabled,
		SMSEnabled:     c.SMSEnabled,
		RiskScore:      c.RiskScore,
		LastSeen:       sql.NullTime{Time: c.LastSeen, Valid: !c.LastSeen.IsZero()},
		Config:         cfg,
		Status:         c.Status,
		CreatedAt:      sql.NullTime{Time: c.CreatedAt, Valid: !c.CreatedAt.IsZero()},
	}, nil
}

func (r cameraRow) toModel() (model.Camera, error) {
	var c model.Camera
	c.ID, c.Name, c.RoomType = r.ID, r.Name, r.RoomType
	c.PrimaryContact, c.BackupContact = r.PrimaryContact, r.BackupContact
	c.VoiceEnabled, c.SMSEnabled = r.VoiceEnabled, r.SMSEnabled
	c.RiskScore = r.RiskScore
	c.Status = r.Status
	c.LastSeen = r.LastSeen.Time
	c.CreatedAt = r.CreatedAt.Time
	if len(r.BedPolygon) > 0 {
		if err := json.Unmarshal(r.BedPolygon, &c.BedPolygon); err != nil {
			return model.Camera{}, fmt.Errorf("pgstore: unmarshal bed_polygon: %w", err)
		}
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &c.Config); err != nil {
			return model.Camera{}, fmt.Errorf("pgstore: unmarshal config: %w", err)
		}
	}
	return c, nil
}

const upsertCameraQuery = `
INSERT INTO cameras (id, name, room_type, bed_polygon, primary_contact, backup_contact,
                      voice_enabled, sms_enabled, risk_score, last_seen, config, status, created_at)
VALUES (:id, :name, :room_type, :bed_polygon, :primary_contact, :backup_contact,
        :voice_enabled, :sms_enabled, :risk_score, :last_seen, :config, :status,
        COALESCE(:created_at, now()))
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name, room_type = EXCLUDED.room_type, bed_polygon = EXCLUDED.bed_polygon,
    primary_contact = EXCLUDED.primary_contact, backup_contact = EXCLUDED.backup_contact,
    voice_enabled = EXCLUDED.voice_enabled, sms_enabled = EXCLUDED.sms_enabled,
    risk_score = EXCLUDED.risk_score, last_seen = EXCLUDED.last_seen,
    config = EXCLUDED.config, status = EXCLUDED.status`

func (s *Store) SaveCamera(ctx context.Context, c model.Camera) error {
	row, err := cameraToRow(c)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertCameraQuery, row); err != nil {
		return fmt.Errorf("pgstore: save camera: %w", err)
	}
	return nil
}

func (s *Store) GetCamera(ctx context.Context, id string) (model.Camera, error) {
	var row cameraRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM cameras WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return model.Camera{}, model.ErrNotFound
	}
	if err != nil {
		return model.Camera{}, fmt.Errorf("pgstore: get camera: %w", err)
	}
	return row.toModel()
}

func (s *Store) UpdateCamera(ctx context.Context, c model.Camera) error {
	return s.SaveCamera(ctx, c)
}

func (s *Store) ListCameras(ctx context.Context) ([]model.Camera, error) {
	var rows []cameraRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM cameras ORDER BY id`); err != nil {
		return nil, fmt.Errorf("pgstore: list cameras: %w", err)
	}
	out := make([]model.Camera, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) SavePolicy(ctx context.Context, p model.NotificationPolicy) error {
	const q = `
INSERT INTO notification_policies (camera_id, sms_enabled, voice_enabled, escalation_delay_s, cooldown_contact_s, max_primary_call_attempts)
VALUES (:camera_id, :sms_enabled, :voice_enabled, :escalation_delay_s, :cooldown_contact_s, :max_primary_call_attempts)
ON CONFLICT (camera_id) DO UPDATE SET
    sms_enabled = EXCLUDED.sms_enabled, voice_enabled = EXCLUDED.voice_enabled,
    escalation_delay_s = EXCLUDED.escalation_delay_s, cooldown_contact_s = EXCLUDED.cooldown_contact_s,
    max_primary_call_attempts = EXCLUDED.max_primary_call_attempts`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return fmt.Errorf("pgstore: save policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, cameraID string) (model.NotificationPolicy, error) {
	var p model.NotificationPolicy
	err := s.db.GetContext(ctx, &p, `SELECT * FROM notification_policies WHERE camera_id = $1`, cameraID)
	if err == sql.ErrNoRows {
		return model.NotificationPolicy{}, model.ErrNotFound
	}
	if err != nil {
		return model.NotificationPolicy{}, fmt.Errorf("pgstore: get policy: %w", err)
	}
	return p, nil
}

type incidentRow struct {
	ID              string         `db:"id"`
	CameraID        string         `db:"camera_id"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	Status          string         `db:"status"`
	Verdict         string         `db:"verdict"`
	SeveritySeed    int            `db:"severity_seed"`
	SeverityCurrent int            `db:"severity_current"`
	RiskScore       float64        `db:"risk_score"`
	Confidence      float64        `db:"confidence"`
	TimeDownSec     float64        `db:"time_down_s"`
	Acknowledged    bool           `db:"acknowledged"`
	AckBy           sql.NullString `db:"ack_by"`
	EscalationStage int            `db:"escalation_stage"`
	PlanVersion     int            `db:"plan_version"`
	ReasonsCurrent  []byte         `db:"reasons_current"`
	Language        sql.NullString `db:"language"`
	SummaryText     sql.NullString `db:"summary_text"`
	FramesB64       []byte         `db:"frames_b64"`
}

func incidentToRow(inc model.Incident) (incidentRow, error) {
	reasons, err := json.Marshal(inc.ReasonsCurrent)
	if err != nil {
		return incidentRow{}, fmt.Errorf("pgstore: marshal reasons: %w", err)
	}
	frames, err := json.Marshal(inc.FramesB64)
	if err != nil {
		return incidentRow{}, fmt.Errorf("pgstore: marshal frames: %w", err)
	}
	return incidentRow{
		ID:              inc.ID,
		CameraID:        inc.CameraID,
		CreatedAt:       sql.NullTime{Time: inc.CreatedAt, Valid: !inc.CreatedAt.IsZero()},
		Status:          string(inc.Status),
		Verdict:         string(inc.Verdict),
		SeveritySeed:    inc.SeveritySeed,
		SeverityCurrent: inc.SeverityCurrent,
		RiskScore:       inc.RiskScore,
		Confidence:      inc.Confidence,
		TimeDownSec:     inc.TimeDownSec,
		Acknowledged:    inc.Acknowledged,
		AckBy:           sql.NullString{String: inc.AckBy, Valid: inc.AckBy != ""},
		EscalationStage: inc.EscalationStage,
		PlanVersion:     inc.PlanVersion,
		ReasonsCurrent:  reasons,
		Language:        sql.NullString{String: inc.Language, Valid: inc.Language != ""},
		SummaryText:     sql.NullString{String: inc.SummaryText, Valid: inc.SummaryText != ""},
		FramesB64:       frames,
	}, nil
}

func (r incidentRow) toModel() (model.Incident, error) {
	inc := model.Incident{
		ID:              r.ID,
		CameraID:        r.CameraID,
		CreatedAt:       r.CreatedAt.Time,
		Status:          model.IncidentStatus(r.Status),
		Verdict:         model.Verdict(r.Verdict),
		SeveritySeed:    r.SeveritySeed,
		SeverityCurrent: r.SeverityCurrent,
		RiskScore:       r.RiskScore,
		Confidence:      r.Confidence,
		TimeDownSec:     r.TimeDownSec,
		Acknowledged:    r.Acknowledged,
		AckBy:           r.AckBy.String,
		EscalationStage: r.EscalationStage,
		PlanVersion:     r.PlanVersion,
		Language:        r.Language.String,
		SummaryText:     r.SummaryText.String,
	}
	if len(r.ReasonsCurrent) > 0 {
		if err := json.Unmarshal(r.ReasonsCurrent, &inc.ReasonsCurrent); err != nil {
			return model.Incident{}, fmt.Errorf("pgstore: unmarshal reasons: %w", err)
		}
	}
	if len(r.FramesB64) > 0 {
		if err := json.Unmarshal(r.FramesB64, &inc.FramesB64); err != nil {
			return model.Incident{}, fmt.Errorf("pgstore: unmarshal frames: %w", err)
		}
	}
	return inc, nil
}

const upsertIncidentQuery = `
INSERT INTO incidents (id, camera_id, created_at, status, verdict, severity_seed, severity_current,
                        risk_score, confidence, time_down_s, acknowledged, ack_by, escalation_stage,
                        plan_version, reasons_current, language, summary_text, frames_b64)
VALUES (:id, :camera_id, COALESCE(:created_at, now()), :status, :verdict, :severity_seed, :severity_current,
        :risk_score, :confidence, :time_down_s, :acknowledged, :ack_by, :escalation_stage,
        :plan_version, :reasons_current, :language, :summary_text, :frames_b64)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status, verdict = EXCLUDED.verdict, severity_seed = EXCLUDED.severity_seed,
    severity_current = EXCLUDED.severity_current, risk_score = EXCLUDED.risk_score,
    confidence = EXCLUDED.confidence, time_down_s = EXCLUDED.time_down_s,
    acknowledged = EXCLUDED.acknowledged, ack_by = EXCLUDED.ack_by,
    escalation_stage = EXCLUDED.escalation_stage, plan_version = EXCLUDED.plan_version,
    reasons_current = EXCLUDED.reasons_current, language = EXCLUDED.language,
    summary_text = EXCLUDED.summary_text, frames_b64 = EXCLUDED.frames_b64`

// SaveIncident upserts an incident. The partial unique index on
// (camera_id) WHERE status = 'ACTIVE' enforces one active incident per
// camera at the database layer; a unique_violation surfaces here as
// model.ErrConflict.
func (s *Store) SaveIncident(ctx context.Context, inc model.Incident) error {
	row, err := incidentToRow(inc)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertIncidentQuery, row); err != nil {
		if isUniqueViolation(err) {
			return model.ErrConflict
		}
		return fmt.Errorf("pgstore: save incident: %w", err)
	}
	return nil
}

func (s *Store) UpdateIncident(ctx context.Context, inc model.Incident) error {
	return s.SaveIncident(ctx, inc)
}

func (s *Store) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return model.Incident{}, model.ErrNotFound
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("pgstore: get incident: %w", err)
	}
	return row.toModel()
}

func (s *Store) ActiveIncidentByCamera(ctx context.Context, cameraID string) (model.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM incidents WHERE camera_id = $1 AND status = 'ACTIVE'`, cameraID)
	if err == sql.ErrNoRows {
		return model.Incident{}, model.ErrNotFound
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("pgstore: active incident by camera: %w", err)
	}
	return row.toModel()
}

type planRow struct {
	ID                string  `db:"id"`
	IncidentID        string  `db:"incident_id"`
	Version           int     `db:"version"`
	ModelUsed         string  `db:"model_used"`
	Verdict           string  `db:"verdict"`
	SeveritySeed      int     `db:"severity_seed"`
	Confidence        float64 `db:"confidence"`
	Reasons           []byte  `db:"reasons"`
	Actions           []byte  `db:"actions"`
	ReplanIntervalSec float64 `db:"replan_interval_s"`
	CreatedAt         sql.NullTime `db:"created_at"`
}

func planToRow(p model.IncidentPlan) (planRow, error) {
	reasons, err := json.Marshal(p.Reasons)
	if err != nil {
		return planRow{}, fmt.Errorf("pgstore: marshal plan reasons: %w", err)
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return planRow{}, fmt.Errorf("pgstore: marshal plan actions: %w", err)
	}
	return planRow{
		ID:                p.ID,
		IncidentID:        p.IncidentID,
		Version:           p.Version,
		ModelUsed:         string(p.ModelUsed),
		Verdict:           string(p.Verdict),
		SeveritySeed:      p.SeveritySeed,
		Confidence:        p.Confidence,
		Reasons:           reasons,
		Actions:           actions,
		ReplanIntervalSec: p.ReplanIntervalSec,
		CreatedAt:         sql.NullTime{Time: p.CreatedAt, Valid: !p.CreatedAt.IsZero()},
	}, nil
}

func (r planRow) toModel() (model.IncidentPlan, error) {
	p := model.IncidentPlan{
		ID:                r.ID,
		IncidentID:        r.IncidentID,
		Version:           r.Version,
		ModelUsed:         model.ModelUsed(r.ModelUsed),
		Verdict:           model.Verdict(r.Verdict),
		SeveritySeed:      r.SeveritySeed,
		Confidence:        r.Confidence,
		ReplanIntervalSec: r.ReplanIntervalSec,
		CreatedAt:         r.CreatedAt.Time,
	}
	if len(r.Reasons) > 0 {
		if err := json.Unmarshal(r.Reasons, &p.Reasons); err != nil {
			return model.IncidentPlan{}, fmt.Errorf("pgstore: unmarshal plan reasons: %w", err)
		}
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &p.Actions); err != nil {
			return model.IncidentPlan{}, fmt.Errorf("pgstore: unmarshal plan actions: %w", err)
		}
	}
	return p, nil
}

func (s *Store) SavePlan(ctx context.Context, p model.IncidentPlan) error {
	row, err := planToRow(p)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO incident_plans (id, incident_id, version, model_used, verdict, severity_seed,
                             confidence, reasons, actions, replan_interval_s, created_at)
VALUES (:id, :incident_id, :version, :model_used, :verdict, :severity_seed,
        :confidence, :reasons, :actions, :replan_interval_s, COALESCE(:created_at, now()))`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return model.ErrConflict
		}
		return fmt.Errorf("pgstore: save plan: %w", err)
	}
	return nil
}

func (s *Store) LatestPlan(ctx context.Context, incidentID string) (model.IncidentPlan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM incident_plans WHERE incident_id = $1 ORDER BY version DESC LIMIT 1`, incidentID)
	if err == sql.ErrNoRows {
		return model.IncidentPlan{}, model.ErrNotFound
	}
	if err != nil {
		return model.IncidentPlan{}, fmt.Errorf("pgstore: latest plan: %w", err)
	}
	return row.toModel()
}

func (s *Store) ListPlans(ctx context.Context, incidentID string) ([]model.IncidentPlan, error) {
	var rows []planRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM incident_plans WHERE incident_id = $1 ORDER BY version`, incidentID); err != nil {
		return nil, fmt.Errorf("pgstore: list plans: %w", err)
	}
	out := make([]model.IncidentPlan, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type timelineRow struct {
	ID         string       `db:"id"`
	IncidentID string       `db:"incident_id"`
	CameraID   string       `db:"camera_id"`
	Kind       string       `db:"kind"`
	Sequence   int64        `db:"sequence"`
	Timestamp  sql.NullTime `db:"ts"`
	Payload    []byte       `db:"payload"`
}

func (s *Store) AppendTimelineEvent(ctx context.Context, e model.TimelineEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("pgstore: marshal timeline payload: %w", err)
	}
	const q = `
INSERT INTO incident_timeline (id, incident_id, camera_id, kind, sequence, ts, payload)
VALUES ($1, $2, $3, $4,
        COALESCE((SELECT MAX(sequence) FROM incident_timeline WHERE incident_id = $2), 0) + 1,
        now(), $5)`
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.IncidentID, e.CameraID, string(e.Kind), payload); err != nil {
		return fmt.Errorf("pgstore: append timeline event: %w", err)
	}
	return nil
}

func (s *Store) ListTimelineEvents(ctx context.Context, incidentID string) ([]model.TimelineEvent, error) {
	var rows []timelineRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM incident_timeline WHERE incident_id = $1 ORDER BY sequence`, incidentID); err != nil {
		return nil, fmt.Errorf("pgstore: list timeline events: %w", err)
	}
	out := make([]model.TimelineEvent, 0, len(rows))
	for _, r := range rows {
		ev := model.TimelineEvent{
			ID:         r.ID,
			IncidentID: r.IncidentID,
			CameraID:   r.CameraID,
			Kind:       model.TimelineEventKind(r.Kind),
			Sequence:   r.Sequence,
			Timestamp:  r.Timestamp.Time,
		}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal timeline payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) SaveActionLog(ctx context.Context, a model.ActionLog) error {
	params, err := json.Marshal(a.Params)
	if err != nil {
		return fmt.Errorf("pgstore: marshal action log params: %w", err)
	}
	const q = `
INSERT INTO action_logs (id, incident_id, camera_id, action_type, params, result, ts)
VALUES ($1, $2, $3, $4, $5, $6, now())`
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.IncidentID, a.CameraID, string(a.ActionType), params, a.Result); err != nil {
		return fmt.Errorf("pgstore: save action log: %w", err)
	}
	return nil
}

func (s *Store) ListActionLogs(ctx context.Context, incidentID string) ([]model.ActionLog, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM action_logs WHERE incident_id = $1 ORDER BY ts`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list action logs: %w", err)
	}
	defer rows.Close()

	out := make([]model.ActionLog, 0)
	for rows.Next() {
		var id, incidentID, cameraID, actionType, result string
		var params []byte
		var ts sql.NullTime
		if err := rows.Scan(&id, &incidentID, &cameraID, &actionType, &params, &result, &ts); err != nil {
			return nil, fmt.Errorf("pgstore: scan action log: %w", err)
		}
		a := model.ActionLog{ID: id, IncidentID: incidentID, CameraID: cameraID,
			ActionType: model.ActionType(actionType), Result: result, Timestamp: ts.Time}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &a.Params); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal action log params: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAgentNote(ctx context.Context, n model.AgentNote) error {
	watchlist, err := json.Marshal(n.Watchlist)
	if err != nil {
		return fmt.Errorf("pgstore: marshal watchlist: %w", err)
	}
	const q = `
INSERT INTO agent_notes (id, camera_id, priority, text, watchlist, summary, created_at, expires_at)
VALUES (:id, :camera_id, :priority, :text, :watchlist, :summary, COALESCE(:created_at, now()), :expires_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]interface{}{
		"id": n.ID, "camera_id": n.CameraID, "priority": n.Priority, "text": n.Text,
		"watchlist": watchlist, "summary": n.Summary, "created_at": n.CreatedAt, "expires_at": n.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("pgstore: save agent note: %w", err)
	}
	return nil
}

func (s *Store) ActiveAgentNotes(ctx context.Context, cameraID string) ([]model.AgentNote, error) {
	const q = `
SELECT * FROM agent_notes
WHERE (camera_id = $1 OR camera_id = '') AND expires_at > now()
ORDER BY priority DESC, created_at`
	rows, err := s.db.QueryxContext(ctx, q, cameraID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: active agent notes: %w", err)
	}
	defer rows.Close()

	out := make([]model.AgentNote, 0)
	for rows.Next() {
		var n model.AgentNote
		var watchlist []byte
		if err := rows.Scan(&n.ID, &n.CameraID, &n.Priority, &n.Text, &watchlist, &n.Summary, &n.CreatedAt, &n.ExpiresAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan agent note: %w", err)
		}
		if len(watchlist) > 0 {
			if err := json.Unmarshal(watchlist, &n.Watchlist); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal watchlist: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) SaveConfigUpdate(ctx context.Context, u model.ConfigUpdate) error {
	const q = `
INSERT INTO config_updates (id, camera_id, reason, confidence, config_json, applied, rolled_back, ts)
VALUES (:id, :camera_id, :reason, :confidence, :config_json, :applied, :rolled_back, COALESCE(:ts, now()))`
	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("pgstore: save config update: %w", err)
	}
	return nil
}

func (s *Store) ListConfigUpdates(ctx context.Context, cameraID string) ([]model.ConfigUpdate, error) {
	var out []model.ConfigUpdate
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM config_updates WHERE camera_id = $1 ORDER BY ts`, cameraID); err != nil {
		return nil, fmt.Errorf("pgstore: list config updates: %w", err)
	}
	return out, nil
}

func (s *Store) SaveOnboardingConfig(ctx context.Context, o model.OnboardingConfig) error {
	const q = `
INSERT INTO onboarding_config (id, monitoring_type, primary_contact, backup_contact, created_at)
VALUES (:id, :monitoring_type, :primary_contact, :backup_contact, COALESCE(:created_at, now()))`
	if _, err := s.db.NamedExecContext(ctx, q, o); err != nil {
		return fmt.Errorf("pgstore: save onboarding config: %w", err)
	}
	return nil
}

func (s *Store) LatestOnboardingConfig(ctx context.Context) (model.OnboardingConfig, error) {
	var o model.OnboardingConfig
	err := s.db.GetContext(ctx, &o,
		`SELECT * FROM onboarding_config ORDER BY created_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OnboardingConfig{}, model.ErrNotFound
	}
	if err != nil {
		return model.OnboardingConfig{}, fmt.Errorf("pgstore: latest onboarding config: %w", err)
	}
	return o, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal used both by incidents_one_active_per_camera
// and by the (incident_id, version) constraint on incident_plans.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
