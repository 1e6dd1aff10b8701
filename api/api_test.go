// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/client"
	"github.com/relabs-tech/sensorhub/sensor"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

type testService struct {
	service  *Service
	client   client.Client
	sensors  *memSensors
	accounts *memAccounts
	devices  *memDevices
}

func newTestService(t *testing.T, configure ...func(b *Builder)) *testService {
	accounts := newMemAccounts()
	ts := &testService{
		sensors:  newMemSensors(),
		accounts: accounts,
		devices: &memDevices{usernames: func(id int64) string {
			accounts.mutex.Lock()
			defer accounts.mutex.Unlock()
			return accounts.usernames[id]
		}},
	}
	b := &Builder{
		Router:        mux.NewRouter(),
		Sensors:       ts.sensors,
		Accounts:      ts.accounts,
		Devices:       ts.devices,
		Wardrobe:      &memWardrobe{items: map[int64][]wardrobe.Item{}},
		SessionMaxAge: time.Hour,
	}
	for _, c := range configure {
		c(b)
	}
	ts.service = New(b)
	ts.client = client.NewWithRouter(ts.service.Router())
	return ts
}

// login signs up username and returns a client carrying its session cookie
func (ts *testService) login(t *testing.T, username string) client.Client {
	form := url.Values{"username": {username}, "password": {"pw-" + username}}
	_, _, err := ts.client.RawPostForm("/signup", form, nil)
	require.NoError(t, err)
	_, cookies, err := ts.client.RawPostForm("/login", form, nil)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	return ts.client.WithCookie(cookies[0])
}

func statusOf(err error) int {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

func TestCreateAndReadReading(t *testing.T) {
	ts := newTestService(t)

	readings := ts.client.Readings("temperature")
	id, status, err := readings.Create(map[string]interface{}{"value": 21.5, "unit": "C"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), id)

	var rd map[string]interface{}
	_, err = readings.Read(id, &rd)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rd["id"])
	assert.Equal(t, 21.5, rd["value"])
	assert.Equal(t, "C", rd["unit"])
	stored, err := time.ParseInLocation(sensor.TimestampLayout, rd["timestamp"].(string), time.Local)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stored, 5*time.Second)
}

func TestCreateAppliesDefaultsForEveryType(t *testing.T) {
	ts := newTestService(t)
	for _, st := range sensor.Types() {
		readings := ts.client.Readings(st.String())
		id, _, err := readings.Create(map[string]interface{}{"value": 10, "timestamp": "2024-05-01T10:00:00"})
		require.NoError(t, err)

		var rd sensor.Reading
		_, err = readings.Read(id, &rd)
		require.NoError(t, err)
		assert.Equal(t, 10.0, rd.Value)
		assert.Equal(t, st.DefaultUnit(), rd.Unit)
		assert.Equal(t, "2024-05-01 10:00:00", sensor.FormatTimestamp(rd.Timestamp))
	}
}

func TestUnknownSensorType(t *testing.T) {
	ts := newTestService(t)
	readings := ts.client.Readings("pressure")

	status, err := readings.List(nil)
	assert.Equal(t, http.StatusNotFound, status, err)
	_, status, err = readings.Count()
	assert.Equal(t, http.StatusNotFound, status, err)
	_, status, err = readings.Create(map[string]interface{}{"value": 1})
	assert.Equal(t, http.StatusNotFound, status, err)
	status, err = readings.Read(1, nil)
	assert.Equal(t, http.StatusNotFound, status, err)
}

func TestInvalidBodies(t *testing.T) {
	ts := newTestService(t)
	readings := ts.client.Readings("humidity")

	for _, body := range []interface{}{
		[]byte(`not json`),
		[]byte(``),
		map[string]interface{}{"unit": "%"},
		map[string]interface{}{"value": "wet"},
		map[string]interface{}{"value": 1, "timestamp": "yesterday"},
		map[string]interface{}{"value": 1, "timestamp": "2024-13-45 10:00:00"},
	} {
		_, status, err := readings.Create(body)
		assert.Equal(t, http.StatusBadRequest, status, "%v", err)
	}
}

func TestListFilters(t *testing.T) {
	ts := newTestService(t)
	readings := ts.client.Readings("light")
	for _, body := range []map[string]interface{}{
		{"value": 300, "timestamp": "2024-05-03 00:00:00"},
		{"value": 100, "timestamp": "2024-05-01 00:00:00"},
		{"value": 200, "timestamp": "2024-05-02 00:00:00", "device_id": "esp-1"},
	} {
		_, _, err := readings.Create(body)
		require.NoError(t, err)
	}

	var result []sensor.Reading
	_, err := readings.List(&result)
	require.NoError(t, err)
	assert.Equal(t, []float64{300, 100, 200}, values(result))

	_, err = readings.WithParameter("order-by", "value").List(&result)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 300}, values(result))

	_, err = readings.WithParameter("order-by", "timestamp").
		WithParameter("start-date", "2024-05-02 00:00:00").List(&result)
	require.NoError(t, err)
	assert.Equal(t, []float64{200, 300}, values(result))

	_, err = readings.WithParameter("device-id", "esp-1").List(&result)
	require.NoError(t, err)
	assert.Equal(t, []float64{200}, values(result))

	var raw []byte
	_, err = readings.WithParameter("start-date", "2024-05-03 00:00:00").
		WithParameter("end-date", "2024-05-01 00:00:00").List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	status, err := readings.WithParameter("start-date", "03.05.2024").List(nil)
	assert.Equal(t, http.StatusBadRequest, status, err)
	status, err = readings.WithParameter("order-by", "unit").List(nil)
	assert.Equal(t, http.StatusBadRequest, status, err)

	count, _, err := readings.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func values(readings []sensor.Reading) []float64 {
	result := make([]float64, len(readings))
	for i, rd := range readings {
		result[i] = rd.Value
	}
	return result
}

func TestUpdateReading(t *testing.T) {
	ts := newTestService(t)
	readings := ts.client.Readings("temperature")
	id, _, err := readings.Create(map[string]interface{}{"value": 20, "timestamp": "2024-05-01 10:00:00"})
	require.NoError(t, err)

	var message map[string]string
	_, err = ts.client.RawPut("/api/temperature/1", map[string]interface{}{"unit": "Fahrenheit"}, &message)
	require.NoError(t, err)
	assert.NotEmpty(t, message["message"])

	var rd sensor.Reading
	_, err = readings.Read(id, &rd)
	require.NoError(t, err)
	assert.Equal(t, "Fahrenheit", rd.Unit)
	assert.Equal(t, 20.0, rd.Value)
	assert.Equal(t, "2024-05-01 10:00:00", sensor.FormatTimestamp(rd.Timestamp))

	status, err := readings.Update(id, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, status, err)
	status, err = readings.Update(id, map[string]interface{}{"color": "red"})
	assert.Equal(t, http.StatusBadRequest, status, err)
	status, err = readings.Update(4711, map[string]interface{}{"value": 1})
	assert.Equal(t, http.StatusNotFound, status, err)
	status, err = ts.client.RawPut("/api/temperature/abc", map[string]interface{}{"value": 1}, nil)
	assert.Equal(t, http.StatusNotFound, status, err)
}

func TestDeleteReading(t *testing.T) {
	ts := newTestService(t)
	readings := ts.client.Readings("humidity")
	id, _, err := readings.Create(map[string]interface{}{"value": 55})
	require.NoError(t, err)

	var message map[string]string
	_, err = ts.client.RawDelete("/api/humidity/1", &message)
	require.NoError(t, err)
	assert.Contains(t, message["message"], "deleted")

	status, err := readings.Delete(id)
	assert.Equal(t, http.StatusNotFound, status, err)
	status, err = readings.Delete(999)
	assert.Equal(t, http.StatusNotFound, status, err)
	status, err = readings.Read(id, nil)
	assert.Equal(t, http.StatusNotFound, status, err)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	ts := newTestService(t)
	ts.sensors.failWith = errors.New("connection reset by peer")

	var raw []byte
	status, err := ts.client.Readings("temperature").List(&raw)
	assert.Equal(t, http.StatusInternalServerError, status)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "connection reset")
}

func TestLogin(t *testing.T) {
	ts := newTestService(t)
	form := url.Values{"username": {"alice"}, "password": {"secret"}}
	_, _, err := ts.client.RawPostForm("/signup", form, nil)
	require.NoError(t, err)

	status, _, err := ts.client.RawPostForm("/signup", form, nil)
	assert.Equal(t, http.StatusConflict, status, err)

	status, cookies, err := ts.client.RawPostForm("/login", url.Values{"username": {"alice"}, "password": {"wrong"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, status, err)
	assert.Empty(t, cookies)

	status, err = ts.client.RawGet("/api/devices", nil)
	assert.Equal(t, http.StatusUnauthorized, status, err)

	_, cookies, err = ts.client.RawPostForm("/login", form, nil)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, access.SessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	session := ts.client.WithCookie(cookie)
	var devices map[string][]map[string]interface{}
	_, err = session.RawGet("/api/devices", &devices)
	require.NoError(t, err)
	assert.Empty(t, devices["devices"])

	var user access.Authorization
	_, err = session.RawGet("/api/user", &user)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, cookies, err = session.RawPostForm("/logout", nil, nil)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)

	status, err = session.RawGet("/api/devices", nil)
	assert.Equal(t, http.StatusUnauthorized, status, err)

	_, _, err = ts.client.RawPostForm("/logout", nil, nil)
	assert.NoError(t, err)
}

func TestDevices(t *testing.T) {
	ts := newTestService(t)
	alice := ts.login(t, "alice")
	bob := ts.login(t, "bob")

	var result map[string]bool
	_, err := alice.RawPost("/api/devices", map[string]string{"deviceId": "esp-1"}, &result)
	require.NoError(t, err)
	assert.True(t, result["success"])

	status, err := alice.RawPost("/api/devices", map[string]string{"deviceId": "esp-1"}, nil)
	assert.Equal(t, http.StatusConflict, status, err)
	status, err = alice.RawPost("/api/devices", map[string]string{"deviceId": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status, err)
	status, err = alice.RawPost("/api/devices", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status, err)

	var devices struct {
		Devices []struct {
			DeviceID string `json:"device_id"`
			Username string `json:"username"`
		} `json:"devices"`
	}
	_, err = alice.RawGet("/api/devices", &devices)
	require.NoError(t, err)
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, "esp-1", devices.Devices[0].DeviceID)
	assert.Equal(t, "alice", devices.Devices[0].Username)

	status, err = bob.RawGet("/api/devices/esp-1", nil)
	assert.Equal(t, http.StatusNotFound, status, err)

	status, err = bob.RawDelete("/api/devices/esp-1", nil)
	assert.Equal(t, http.StatusNotFound, status, err)
	owns, _ := ts.devices.Owns(context.Background(), 1, "esp-1")
	assert.True(t, owns)

	_, err = bob.RawPost("/api/devices", map[string]string{"deviceId": "esp-1"}, nil)
	require.NoError(t, err)
	_, err = alice.RawGet("/api/devices/esp-1", &devices)
	require.NoError(t, err)
	assert.Len(t, devices.Devices, 2)

	_, err = alice.RawDelete("/api/devices/esp-1", &result)
	require.NoError(t, err)
	assert.True(t, result["success"])
	status, err = alice.RawDelete("/api/devices/esp-1", nil)
	assert.Equal(t, http.StatusNotFound, status, err)
}

func TestDeviceReadings(t *testing.T) {
	ts := newTestService(t)
	alice := ts.login(t, "alice")
	_, err := alice.RawPost("/api/devices", map[string]string{"deviceId": "esp-1"}, nil)
	require.NoError(t, err)

	status, err := alice.RawPost("/api/sensor/temperature", map[string]interface{}{"value": 1, "device_id": "esp-2"}, nil)
	assert.Equal(t, http.StatusForbidden, status, err)
	status, err = alice.RawPost("/api/sensor/temperature", map[string]interface{}{"value": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, status, err)
	status, err = ts.client.RawPost("/api/sensor/temperature", map[string]interface{}{"value": 1, "device_id": "esp-1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status, err)

	for _, body := range []map[string]interface{}{
		{"value": 20, "device_id": "esp-1", "timestamp": "2024-05-01 10:00:00"},
		{"value": 22, "device_id": "esp-1", "timestamp": "2024-05-01 11:00:00"},
	} {
		_, err = alice.RawPost("/api/sensor/temperature", body, nil)
		require.NoError(t, err)
	}
	_, _, err = ts.client.Readings("temperature").Create(map[string]interface{}{"value": 99, "device_id": "esp-9"})
	require.NoError(t, err)

	var readings []sensor.Reading
	_, err = alice.RawGet("/api/sensor/temperature?order-by=value", &readings)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 22}, values(readings))

	status, err = alice.RawGet("/api/sensor/temperature?device-id=esp-9", nil)
	assert.Equal(t, http.StatusForbidden, status, err)

	var latest sensor.Reading
	_, err = alice.RawGet("/api/sensor/temperature/latest", &latest)
	require.NoError(t, err)
	assert.Equal(t, 22.0, latest.Value)

	status, err = alice.RawGet("/api/sensor/humidity/latest", nil)
	assert.Equal(t, http.StatusNotFound, status, err)
	status, err = alice.RawGet("/api/sensor/pressure", nil)
	assert.Equal(t, http.StatusNotFound, status, err)
}

func TestWardrobe(t *testing.T) {
	ts := newTestService(t)
	alice := ts.login(t, "alice")

	var result map[string][]wardrobe.Item
	_, err := alice.RawGet("/api/get-wardrobe", &result)
	require.NoError(t, err)
	assert.Empty(t, result["wardrobe"])

	body := map[string]interface{}{"wardrobe": []map[string]string{
		{"item_name": "scarf", "category": "accessories"},
		{"item_name": "boots"},
	}}
	_, err = alice.RawPost("/api/save-wardrobe", body, nil)
	require.NoError(t, err)

	_, err = alice.RawGet("/api/get-wardrobe", &result)
	require.NoError(t, err)
	require.Len(t, result["wardrobe"], 2)
	assert.Equal(t, "scarf", result["wardrobe"][0].ItemName)

	status, err := alice.RawPost("/api/save-wardrobe", map[string]interface{}{"wardrobe": []map[string]string{{"category": "hats"}}}, nil)
	assert.Equal(t, http.StatusBadRequest, status, err)

	status, err = ts.client.RawGet("/api/get-wardrobe", nil)
	assert.Equal(t, http.StatusUnauthorized, status, err)
}

func TestIngestSecret(t *testing.T) {
	secret := []byte("ingest-secret")
	ts := newTestService(t, func(b *Builder) { b.IngestSecret = secret })

	_, status, err := ts.client.Readings("temperature").Create(map[string]interface{}{"value": 1})
	assert.Equal(t, http.StatusUnauthorized, status, err)

	token, err := (&access.IngestTokenIssuer{Secret: secret}).Token()
	require.NoError(t, err)
	_, _, err = ts.client.WithToken(token).Readings("temperature").Create(map[string]interface{}{"value": 1})
	require.NoError(t, err)

	_, err = ts.client.Readings("temperature").List(nil)
	assert.NoError(t, err)
}

func TestHealth(t *testing.T) {
	var pingErr error
	ts := newTestService(t, func(b *Builder) {
		b.Health = pingerFunc(func(ctx context.Context) error { return pingErr })
	})

	var result map[string]string
	_, err := ts.client.RawGet("/health", &result)
	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])

	pingErr = errors.New("down")
	status, err := ts.client.RawGet("/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status, err)
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))
}

func TestVersion(t *testing.T) {
	ts := newTestService(t)
	var result map[string]string
	_, err := ts.client.RawGet("/version", &result)
	require.NoError(t, err)
	assert.Equal(t, Version, result["version"])
}
