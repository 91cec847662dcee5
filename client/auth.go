package client

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// PermissionType selects the access a role permission grants.
type PermissionType int

// Permission types.
const (
	PermRead      PermissionType = 0
	PermWrite     PermissionType = 1
	PermReadWrite PermissionType = 2
)

func (p PermissionType) String() string {
	switch p {
	case PermRead:
		return "READ"
	case PermWrite:
		return "WRITE"
	case PermReadWrite:
		return "READWRITE"
	}
	return "UNKNOWN"
}

// ParsePermissionType accepts read, write, readwrite (any case, "-" and "_"
// ignored) or the numeric forms 0, 1, 2.
func ParsePermissionType(s string) (PermissionType, bool) {
	norm := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "read", "r", "0":
		return PermRead, true
	case "write", "w", "1":
		return PermWrite, true
	case "readwrite", "rw", "2":
		return PermReadWrite, true
	}
	return PermRead, false
}

func permissionTypeOf(v any) PermissionType {
	if s, ok := v.(string); ok {
		if p, ok := ParsePermissionType(s); ok {
			return p
		}
	}
	return PermissionType(int64Of(v))
}

// AuthEnable turns on authentication. The session token is cleared.
func (c *Client) AuthEnable(ctx context.Context) (*Result, error) {
	return c.plain(ctx, PathAuthEnable, nil)
}

// AuthDisable turns off authentication. The session token is cleared.
func (c *Client) AuthDisable(ctx context.Context) (*Result, error) {
	return c.plain(ctx, PathAuthDisable, nil)
}

// Authenticate exchanges credentials for a token. Pretty result: the token.
// The token is not stored; see Login.
func (c *Client) Authenticate(ctx context.Context, user, password string) (*Result, error) {
	res, err := c.plain(ctx, PathAuthenticate, Params{"name": user, "password": password})
	if err != nil {
		return nil, err
	}
	if c.Pretty() {
		res.Pretty = res.Body.Token()
	}
	return res, nil
}

// Login authenticates and stores the returned token in the client session.
func (c *Client) Login(ctx context.Context, user, password string) (string, error) {
	res, err := c.Authenticate(ctx, user, password)
	if err != nil {
		return "", err
	}
	token := res.Body.Token()
	if token == "" {
		return "", errors.New("etcdgw: authenticate returned no token")
	}
	c.session.Set(token)
	return token, nil
}

// AddRole creates a role.
func (c *Client) AddRole(ctx context.Context, name string) (*Result, error) {
	return c.plain(ctx, PathRoleAdd, Params{"name": name})
}

// GetRole returns the permissions of role. Pretty result: the perm member
// (one object or a list) with key and range_end decoded.
func (c *Client) GetRole(ctx context.Context, role string) (*Result, error) {
	body, err := c.request(ctx, PathRoleGet, Params{"role": role}, nil)
	if err != nil {
		return nil, err
	}
	body, err = decodeBodyForFields(PathRoleGet, body, "perm", "key", "range_end")
	if err != nil {
		return nil, err
	}
	res := &Result{Body: body}
	if c.Pretty() {
		if perm, ok := body["perm"]; ok && perm != nil {
			res.Pretty = perm
		}
	}
	return res, nil
}

// DeleteRole removes a role.
func (c *Client) DeleteRole(ctx context.Context, role string) (*Result, error) {
	return c.plain(ctx, PathRoleDelete, Params{"role": role})
}

// RoleList lists roles. Pretty result: []string of role names.
func (c *Client) RoleList(ctx context.Context) (*Result, error) {
	res, err := c.plain(ctx, PathRoleList, nil)
	if err != nil {
		return nil, err
	}
	if c.Pretty() {
		res.Pretty = nonNilStrings(res.Body.Roles())
	}
	return res, nil
}

// AddUser creates a user.
func (c *Client) AddUser(ctx context.Context, user, password string) (*Result, error) {
	return c.plain(ctx, PathUserAdd, Params{"name": user, "password": password})
}

// GetUser returns the roles granted to user. Pretty result: []string of
// role names.
func (c *Client) GetUser(ctx context.Context, user string) (*Result, error) {
	res, err := c.plain(ctx, PathUserGet, Params{"name": user})
	if err != nil {
		return nil, err
	}
	if c.Pretty() {
		res.Pretty = nonNilStrings(res.Body.Roles())
	}
	return res, nil
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, user string) (*Result, error) {
	return c.plain(ctx, PathUserDelete, Params{"name": user})
}

// ChangeUserPassword replaces the password of user.
func (c *Client) ChangeUserPassword(ctx context.Context, user, password string) (*Result, error) {
	return c.plain(ctx, PathUserChangePass, Params{"name": user, "password": password})
}

// UserList lists users. Pretty result: []string of user names.
func (c *Client) UserList(ctx context.Context) (*Result, error) {
	res, err := c.plain(ctx, PathUserList, nil)
	if err != nil {
		return nil, err
	}
	if c.Pretty() {
		res.Pretty = nonNilStrings(res.Body.Users())
	}
	return res, nil
}

// GrantRolePermission grants role access to key, or to [key, rangeEnd) when
// rangeEnd is not empty.
func (c *Client) GrantRolePermission(ctx context.Context, role string, permType PermissionType, key, rangeEnd string) (*Result, error) {
	perm := map[string]any{
		"permType": int(permType),
		"key":      base64.StdEncoding.EncodeToString([]byte(key)),
	}
	if rangeEnd != "" {
		perm["range_end"] = base64.StdEncoding.EncodeToString([]byte(rangeEnd))
	}
	return c.plain(ctx, PathRoleGrant, Params{"name": role, "perm": perm})
}

// RevokeRolePermission revokes the permission of role on key, or on
// [key, rangeEnd) when rangeEnd is not empty.
func (c *Client) RevokeRolePermission(ctx context.Context, role, key, rangeEnd string) (*Result, error) {
	params := Params{"key": key}
	if rangeEnd != "" {
		params["range_end"] = rangeEnd
	}
	params = encodeParams(params)
	params["role"] = role
	return c.plain(ctx, PathRoleRevoke, params)
}

// GrantUserRole grants role to user.
func (c *Client) GrantUserRole(ctx context.Context, user, role string) (*Result, error) {
	return c.plain(ctx, PathUserGrant, Params{"user": user, "role": role})
}

// RevokeUserRole revokes role from user.
func (c *Client) RevokeUserRole(ctx context.Context, user, role string) (*Result, error) {
	return c.plain(ctx, PathUserRevoke, Params{"name": user, "role": role})
}

func (c *Client) plain(ctx context.Context, path string, params Params) (*Result, error) {
	body, err := c.request(ctx, path, params, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
