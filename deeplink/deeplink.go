// Package deeplink builds rider-app deeplinks for handing off ride
// requests, plus web fallbacks for devices without the native app
// installed. Deeplinks are plain URLs; launching them is up to the host
// application.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

const (
	defaultScheme = "uber"
	appStoreURL   = "https://itunes.apple.com/us/app/uber/id368677368?mt=8"
	mobileWebHost = "https://m.uber.com/sign-up"
)

// Location pins one endpoint of the ride. Labels are optional and shown to
// the rider in place of raw coordinates.
type Location struct {
	Latitude  float64
	Longitude float64
	Nickname  string
	Address   string
}

func (l Location) validate(which string) error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%s latitude %v out of range", which, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%s longitude %v out of range", which, l.Longitude)
	}
	return nil
}

// RideRequest describes a ride handed to the installed rider app. A nil
// Pickup means the rider's current location.
type RideRequest struct {
	ClientID  string
	ProductID string
	Pickup    *Location
	Dropoff   *Location

	// Scheme overrides the rider app's URL scheme. Defaults to "uber".
	Scheme string
}

// URL builds the setPickup deeplink for the request.
func (r RideRequest) URL() (*url.URL, error) {
	if r.ClientID == "" {
		return nil, errors.New("client_id is required")
	}
	if r.Pickup != nil {
		if err := r.Pickup.validate("pickup"); err != nil {
			return nil, err
		}
	}
	if r.Dropoff != nil {
		if err := r.Dropoff.validate("dropoff"); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("action", "setPickup")
	q.Set("client_id", r.ClientID)
	if r.ProductID != "" {
		q.Set("product_id", r.ProductID)
	}
	if r.Pickup == nil {
		q.Set("pickup", "my_location")
	} else {
		setLocation(q, "pickup", *r.Pickup)
	}
	if r.Dropoff != nil {
		setLocation(q, "dropoff", *r.Dropoff)
	}

	scheme := r.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	return &url.URL{Scheme: scheme, RawQuery: q.Encode()}, nil
}

func setLocation(q url.Values, prefix string, loc Location) {
	q.Set(prefix+"[latitude]", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set(prefix+"[longitude]", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	if loc.Nickname != "" {
		q.Set(prefix+"[nickname]", loc.Nickname)
	}
	if loc.Address != "" {
		q.Set(prefix+"[formatted_address]", loc.Address)
	}
}

// AppStoreURL is the install page for the rider app.
func AppStoreURL() string {
	return appStoreURL
}

// MobileWebURL is the browser-based ride request fallback for the given
// application.
func MobileWebURL(clientID string) string {
	return mobileWebHost + "?" + url.Values{"client_id": {clientID}}.Encode()
}
