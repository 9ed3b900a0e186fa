package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quorumlabs/quorum/internal/vault"
)

// VaultStatusHandler reports lock state and stored credential names. Values
// never leave the vault over HTTP.
func VaultStatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"locked": d.Vault.IsLocked(),
			"keys":   d.Vault.Keys(),
		})
	}
}

func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Vault.Unlock(r.Context(), []byte(req.Password)); err != nil {
			if errors.Is(err, vault.ErrBadPassword) {
				jsonError(w, "wrong password", http.StatusForbidden)
				return
			}
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locked": false})
	}
}

func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Vault.Lock()
		writeJSON(w, http.StatusOK, map[string]any{"locked": true})
	}
}

// VaultSetKeyHandler stores one credential under a name.
func VaultSetKeyHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.Value == "" {
			jsonError(w, "name and value required", http.StatusBadRequest)
			return
		}
		if err := d.Vault.Set(r.Context(), req.Name, req.Value); err != nil {
			if errors.Is(err, vault.ErrLocked) {
				jsonError(w, "vault locked", http.StatusConflict)
				return
			}
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stored": req.Name})
	}
}
