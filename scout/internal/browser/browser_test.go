package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/signalscout/scout/internal/session"
)

func TestShouldBlock(t *testing.T) {
	// WHAT: CDP resource types map onto the plural config names.
	// WHY: Config says "images", CDP says "Image".
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"XHR":        true,
		"Stylesheet": false,
		"Document":   false,
		"Media":      false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestCookieConversion(t *testing.T) {
	// WHAT: Cookies survive browser -> artifact -> browser; session cookies
	// keep no expiry.
	// WHY: A recycle or a new run must restore the exact login state.
	in := &proto.NetworkCookie{
		Name: "auth_token", Value: "v", Domain: ".x.com", Path: "/",
		Expires: 1_800_000_000, HTTPOnly: true, Secure: true,
		SameSite: proto.NetworkCookieSameSiteNone,
	}
	c := fromProto(in)
	want := session.Cookie{Name: "auth_token", Value: "v", Domain: ".x.com", Path: "/",
		Expires: 1_800_000_000, HTTPOnly: true, Secure: true, SameSite: "None"}
	if c != want {
		t.Fatalf("fromProto = %+v", c)
	}
	p := toProto(c)
	if p.Expires != 1_800_000_000 || p.SameSite != proto.NetworkCookieSameSiteNone || !p.HTTPOnly {
		t.Errorf("toProto = %+v", p)
	}

	sess := fromProto(&proto.NetworkCookie{Name: "s", Session: true, Expires: -1})
	if sess.Expires != -1 {
		t.Errorf("session cookie expires = %v", sess.Expires)
	}
	if toProto(sess).Expires != 0 {
		t.Error("session cookie must not get an expiry")
	}
}

func TestParseStealth(t *testing.T) {
	// WHAT: Config names map to levels; unknown names fail.
	// WHY: A typo must not silently fall back to headless.
	if l, err := ParseStealth("headful"); err != nil || l != LevelHeadful {
		t.Errorf("headful = %v, %v", l, err)
	}
	if l, err := ParseStealth(""); err != nil || l != LevelHeadless {
		t.Errorf("default = %v, %v", l, err)
	}
	if _, err := ParseStealth("invisible"); err == nil {
		t.Error("unknown mode must fail")
	}
}
