package store

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/z-dmr/zdmr/internal/model"
)

// seedDefaults writes the default Settings row the first time the store is
// opened, and generates the local API token if absent — the only secret the
// store holds, per spec.md §4.1.
func (s *Store) seedDefaults() error {
	existing, err := s.getSetting("local_api_token")
	if err != nil {
		return err
	}
	if existing != "" {
		return nil // already initialized
	}

	token, err := generateToken()
	if err != nil {
		return err
	}

	defaults := map[string]string{
		"default_download_dir": "",
		"global_bandwidth_bps": "0",
		"global_proxy_enabled": "0",
		"global_proxy_url":     "",
		"tray_enabled":         "0",
		"theme":                "system",
		"global_hotkey":        "",
		"local_api_port":       "47113",
		"local_api_token":      token,
		"user_agent_mode":      "fixed",
		"max_concurrent":       "4",
	}
	for k, v := range defaults {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fatal("seedDefaults", err)
		}
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *Store) getSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if err != nil && !isNoRows(err) {
		return "", fatal("getSetting", err)
	}
	return value, nil
}

func (s *Store) setSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return fatal("setSetting", err)
}

// GetSettings reads the full Settings record in one pass.
func (s *Store) GetSettings() (*model.Settings, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fatal("GetSettings", err)
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fatal("GetSettings.scan", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fatal("GetSettings.rows", err)
	}
	return settingsFromKV(kv), nil
}

// SetSettings writes every field of the Settings record as one atomic
// write, preserving the token unless the caller explicitly provides a new
// non-empty one.
func (s *Store) SetSettings(st *model.Settings) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fatal("SetSettings.Begin", err)
	}
	defer tx.Rollback()

	kv := kvFromSettings(st)
	stmt, err := tx.Prepare(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`)
	if err != nil {
		return fatal("SetSettings.prepare", err)
	}
	defer stmt.Close()
	for k, v := range kv {
		if k == "local_api_token" && v == "" {
			continue // never blank out the token via a settings write
		}
		if _, err := stmt.Exec(k, v); err != nil {
			return fatal("SetSettings.exec", err)
		}
	}
	return fatal("SetSettings.Commit", tx.Commit())
}

func isNoRows(err error) bool { return err != nil && err.Error() == "sql: no rows in result set" }

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func strBool(s string) bool { return s == "1" }

func intStr(n int) string { return strconv.Itoa(n) }

func strInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func int64Str(n int64) string { return strconv.FormatInt(n, 10) }

func strInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func settingsFromKV(kv map[string]string) *model.Settings {
	return &model.Settings{
		DefaultDownloadDir: kv["default_download_dir"],
		GlobalBandwidthBPS: strInt64(kv["global_bandwidth_bps"]),
		GlobalProxy: model.ProxyConfig{
			Enabled: strBool(kv["global_proxy_enabled"]),
			URL:     kv["global_proxy_url"],
		},
		TrayEnabled:   strBool(kv["tray_enabled"]),
		Theme:         kv["theme"],
		GlobalHotkey:  kv["global_hotkey"],
		LocalAPIPort:  strInt(kv["local_api_port"]),
		LocalAPIToken: kv["local_api_token"],
		UserAgentMode: kv["user_agent_mode"],
		MaxConcurrent: strInt(kv["max_concurrent"]),
	}
}

func kvFromSettings(st *model.Settings) map[string]string {
	return map[string]string{
		"default_download_dir": st.DefaultDownloadDir,
		"global_bandwidth_bps": int64Str(st.GlobalBandwidthBPS),
		"global_proxy_enabled": boolStr(st.GlobalProxy.Enabled),
		"global_proxy_url":     st.GlobalProxy.URL,
		"tray_enabled":         boolStr(st.TrayEnabled),
		"theme":                st.Theme,
		"global_hotkey":        st.GlobalHotkey,
		"local_api_port":       intStr(st.LocalAPIPort),
		"local_api_token":      st.LocalAPIToken,
		"user_agent_mode":      st.UserAgentMode,
		"max_concurrent":       intStr(st.MaxConcurrent),
	}
}
