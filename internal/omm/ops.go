package omm

import (
	"context"
	"strconv"
)

// SubscriptionMode returns the DECT subscription mode, e.g. "Configured".
func (c *Client) SubscriptionMode(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, msg("GetDECTSubscriptionMode"))
	if err != nil {
		return "", err
	}
	return resp.attr("mode"), nil
}

// SetSubscriptionMode changes the DECT subscription mode.
func (c *Client) SetSubscriptionMode(ctx context.Context, mode string) error {
	_, err := c.call(ctx, msg("SetDECTSubscriptionMode", "mode", mode))
	return err
}

// Devices pages through every handset known to the OMM.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	next := 0
	for {
		resp, err := c.call(ctx, msg("GetPPDev", "ppn", strconv.Itoa(next), "maxRecords", strconv.Itoa(pageSize)))
		if err != nil {
			return nil, err
		}
		pps := resp.children("pp")
		for _, pp := range pps {
			d := Device{PPN: pp.intAttr("ppn"), UID: pp.intAttr("uid"), RelType: pp.attr("relType")}
			out = append(out, d)
			next = d.PPN + 1
		}
		if len(pps) < pageSize {
			return out, nil
		}
	}
}

// UnboundDevices returns the handsets without a user.
func (c *Client) UnboundDevices(ctx context.Context) ([]Device, error) {
	all, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range all {
		if d.RelType == "Unbound" {
			out = append(out, d)
		}
	}
	return out, nil
}

// CreateUser adds a user with number num.
func (c *Client) CreateUser(ctx context.Context, num string) (User, error) {
	resp, err := c.call(ctx, msg("CreatePPUser").with(msg("user", "num", num)))
	if err != nil {
		return User{}, err
	}
	users := resp.children("user")
	if len(users) == 0 {
		return User{}, &Error{Request: "CreatePPUser", Code: "EMPTY_RESPONSE"}
	}
	return userFrom(users[0]), nil
}

// SetUserSIPAuth sets the SIP credentials the OMM registers the user with.
func (c *Client) SetUserSIPAuth(ctx context.Context, uid int, authID, password string) error {
	_, err := c.call(ctx, msg("SetPPUser").with(
		msg("user", "uid", strconv.Itoa(uid), "sipAuthId", authID, "sipPw", password),
	))
	return err
}

// SetUserName sets the display name of a user.
func (c *Client) SetUserName(ctx context.Context, uid int, name string) error {
	_, err := c.call(ctx, msg("SetPPUser").with(
		msg("user", "uid", strconv.Itoa(uid), "name", name),
	))
	return err
}

// AttachUserDevice binds a user to a handset.
func (c *Client) AttachUserDevice(ctx context.Context, uid, ppn int) error {
	_, err := c.call(ctx, msg("SetPPUserDevRelation",
		"uid", strconv.Itoa(uid), "ppn", strconv.Itoa(ppn), "relType", "Dynamic"))
	return err
}

// DetachUserDevice releases the binding of a user and a handset.
func (c *Client) DetachUserDevice(ctx context.Context, uid, ppn int) error {
	_, err := c.call(ctx, msg("SetPPUserDevRelation",
		"uid", strconv.Itoa(uid), "ppn", strconv.Itoa(ppn), "relType", "Unbound"))
	return err
}

// DetachUserDeviceByUser releases whatever handset uid is bound to.
func (c *Client) DetachUserDeviceByUser(ctx context.Context, uid int) error {
	resp, err := c.call(ctx, msg("GetPPUser", "uid", strconv.Itoa(uid)))
	if err != nil {
		return err
	}
	users := resp.children("user")
	if len(users) == 0 || users[0].attr("ppn") == "" {
		return nil
	}
	return c.DetachUserDevice(ctx, uid, users[0].intAttr("ppn"))
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, uid int) error {
	_, err := c.call(ctx, msg("DeletePPUser", "uid", strconv.Itoa(uid)))
	return err
}

// FindUserByNumber returns the single user with number num.
func (c *Client) FindUserByNumber(ctx context.Context, num string) (User, error) {
	resp, err := c.call(ctx, msg("GetPPUserByNumber", "num", num))
	if err != nil {
		return User{}, err
	}
	users := resp.children("user")
	if len(users) != 1 {
		return User{}, ErrUserNotFound
	}
	return userFrom(users[0]), nil
}

func userFrom(n node) User {
	return User{UID: n.intAttr("uid"), Num: n.attr("num"), Name: n.attr("name"), PPN: n.intAttr("ppn")}
}
