package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mvault/native/access"
)

func (s *Server) mountAccess(r chi.Router) {
	r.Get("/roles", s.handleKnownRoles)
	r.Get("/roles/{role}", s.handleRoleInfo)
	r.Get("/roles/{role}/members/{account}", s.handleHasRole)
	r.Post("/roles/grant", s.handleGrantRole)
	r.Post("/roles/revoke", s.handleRevokeRole)
	r.Post("/roles/renounce", s.handleRenounceRole)
	r.Post("/roles/admin", s.handleSetRoleAdmin)
	r.Post("/roles/grant-batch", s.handleGrantRoleBatch)
	r.Post("/roles/revoke-batch", s.handleRevokeRoleBatch)
}

type roleRequest struct {
	Role      string   `json:"role"`
	Account   string   `json:"account"`
	AdminRole string   `json:"adminRole"`
	Roles     []string `json:"roles"`
	Accounts  []string `json:"accounts"`
}

func (s *Server) handleKnownRoles(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	names := access.KnownRoles()
	out := make([]entry, 0, len(names))
	for _, name := range names {
		role, err := access.ParseRole(name)
		if err != nil {
			continue
		}
		out = append(out, entry{Name: name, ID: role.Hex()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoleInfo(w http.ResponseWriter, r *http.Request) {
	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.fail(w, err)
		return
	}
	var (
		admin   access.Role
		members []common.Address
	)
	err = s.view(func() error {
		var err error
		if admin, err = s.rt.Registry.GetRoleAdmin(role); err != nil {
			return err
		}
		members, err = s.rt.Registry.Members(role)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":      role.String(),
		"id":        role.Hex(),
		"adminRole": admin.String(),
		"members":   members,
	})
}

func (s *Server) handleHasRole(w http.ResponseWriter, r *http.Request) {
	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.fail(w, err)
		return
	}
	account, err := addressParam(r, "account")
	if err != nil {
		s.fail(w, err)
		return
	}
	var held bool
	if err := s.view(func() error {
		var err error
		held, err = s.rt.Registry.HasRole(role, account)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasRole": held})
}

func (s *Server) decodeRoleAccount(r *http.Request) (access.Role, common.Address, error) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		return access.Role{}, common.Address{}, err
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		return access.Role{}, common.Address{}, err
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		return access.Role{}, common.Address{}, err
	}
	return role, account, nil
}

func (s *Server) roleMutation(w http.ResponseWriter, r *http.Request, fn func(from common.Address, role access.Role, account common.Address) error) {
	role, account, err := s.decodeRoleAccount(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := fn(caller(r), role, account); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.roleMutation(w, r, s.rt.Registry.GrantRole)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.roleMutation(w, r, s.rt.Registry.RevokeRole)
}

func (s *Server) handleRenounceRole(w http.ResponseWriter, r *http.Request) {
	s.roleMutation(w, r, s.rt.Registry.RenounceRole)
}

func (s *Server) handleSetRoleAdmin(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	admin, err := access.ParseRole(req.AdminRole)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.rt.Registry.SetRoleAdmin(caller(r), role, admin); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeRoleBatch(r *http.Request) ([]access.Role, []common.Address, error) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, nil, err
	}
	roles := make([]access.Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role, err := access.ParseRole(raw)
		if err != nil {
			return nil, nil, err
		}
		roles = append(roles, role)
	}
	accounts := make([]common.Address, 0, len(req.Accounts))
	for _, raw := range req.Accounts {
		account, err := parseAddress(raw)
		if err != nil {
			return nil, nil, err
		}
		accounts = append(accounts, account)
	}
	return roles, accounts, nil
}

func (s *Server) roleBatch(w http.ResponseWriter, r *http.Request, fn func(from common.Address, roles []access.Role, accounts []common.Address) error) {
	roles, accounts, err := decodeRoleBatch(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := fn(caller(r), roles, accounts); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(roles)})
}

func (s *Server) handleGrantRoleBatch(w http.ResponseWriter, r *http.Request) {
	s.roleBatch(w, r, s.rt.Registry.GrantRoleMult)
}

func (s *Server) handleRevokeRoleBatch(w http.ResponseWriter, r *http.Request) {
	s.roleBatch(w, r, s.rt.Registry.RevokeRoleMult)
}
