package store

import (
	"encoding/json"
	"fmt"

	"github.com/z-dmr/zdmr/internal/model"
)

// rulePayload is the JSON-encoded kind-specific payload stored in the
// rules.payload column. encodeRulePayload writes header rules in flat form;
// decodeRulePayload also accepts the map form under "headers" and flattens
// both shapes into HeaderDirectives on load, per spec.md §9.
type rulePayload struct {
	UseProxy         bool              `json:"use_proxy,omitempty"`
	ProxyURLOverride string            `json:"proxy_url_override,omitempty"`
	HeadersMap       map[string]string `json:"headers,omitempty"`
	HeadersFlat      []flatHeader      `json:"headers_flat,omitempty"`
	MirrorCandidates []string          `json:"mirror_candidates,omitempty"`
}

type flatHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Mode  string `json:"mode"` // "override" or "add_if_missing"
}

// UpsertRule inserts a new rule (ID == 0) or replaces an existing one.
// Negative IDs are UI-only placeholders and are rejected outright, per
// spec.md §4.1.
func (s *Store) UpsertRule(r *model.Rule) (int64, error) {
	if r.ID < 0 {
		return 0, fmt.Errorf("store: negative rule ID %d is not persistable", r.ID)
	}
	payload, err := encodeRulePayload(r)
	if err != nil {
		return 0, fmt.Errorf("store: encoding rule payload: %w", err)
	}
	enabled := boolStr(r.Enabled)

	if r.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO rules (pattern, enabled, kind, payload) VALUES (?,?,?,?)`,
			r.Pattern, enabled, string(r.Kind), payload)
		if err != nil {
			return 0, fatal("UpsertRule.insert", err)
		}
		id, err := res.LastInsertId()
		return id, fatal("UpsertRule.LastInsertId", err)
	}

	_, err = s.db.Exec(`UPDATE rules SET pattern=?, enabled=?, kind=?, payload=? WHERE id=?`,
		r.Pattern, enabled, string(r.Kind), payload, r.ID)
	return r.ID, fatal("UpsertRule.update", err)
}

func (s *Store) DeleteRule(id int64) error {
	_, err := s.db.Exec(`DELETE FROM rules WHERE id=?`, id)
	return fatal("DeleteRule", err)
}

// ListRules returns every rule ordered by ID ascending, the order the Rule
// Engine's tie-break (spec.md §4.2) relies on.
func (s *Store) ListRules() ([]*model.Rule, error) {
	rows, err := s.db.Query(`SELECT id, pattern, enabled, kind, payload FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, fatal("ListRules", err)
	}
	defer rows.Close()

	var out []*model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fatal("ListRules.scan", err)
		}
		out = append(out, r)
	}
	return out, fatal("ListRules.rows", rows.Err())
}

func scanRule(row scanner) (*model.Rule, error) {
	var r model.Rule
	var enabled int
	var kind, payload string
	if err := row.Scan(&r.ID, &r.Pattern, &enabled, &kind, &payload); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.Kind = model.RuleKind(kind)
	if err := decodeRulePayload(&r, payload); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeRulePayload(r *model.Rule) (string, error) {
	p := rulePayload{
		UseProxy:         r.UseProxy,
		ProxyURLOverride: r.ProxyURLOverride,
		MirrorCandidates: r.MirrorCandidates,
	}
	for _, hd := range r.HeaderDirectives {
		p.HeadersFlat = append(p.HeadersFlat, flatHeader{Name: hd.Name, Value: hd.Value, Mode: string(hd.Mode)})
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func decodeRulePayload(r *model.Rule, raw string) error {
	var p rulePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return err
	}
	r.UseProxy = p.UseProxy
	r.ProxyURLOverride = p.ProxyURLOverride
	r.MirrorCandidates = p.MirrorCandidates

	// Normalize both authored shapes (map form, flat form) into directives
	// here, at load time, so the rules package's hot path only ever sees
	// HeaderDirectives (spec.md §9).
	for name, value := range p.HeadersMap {
		r.HeaderDirectives = append(r.HeaderDirectives, model.HeaderDirective{
			Name: name, Value: value, Mode: model.HeaderOverride,
		})
	}
	for _, fh := range p.HeadersFlat {
		mode := model.HeaderOverride
		if fh.Mode == string(model.HeaderAddIfMissing) {
			mode = model.HeaderAddIfMissing
		}
		r.HeaderDirectives = append(r.HeaderDirectives, model.HeaderDirective{
			Name: fh.Name, Value: fh.Value, Mode: mode,
		})
	}
	return nil
}
