// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/sensorhub/account"
	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/device"
	"github.com/relabs-tech/sensorhub/sensor"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

// memSensors is an in-memory SensorStore
type memSensors struct {
	mutex    sync.Mutex
	nextID   int64
	readings map[sensor.Type][]sensor.Reading
	failWith error
}

func newMemSensors() *memSensors {
	return &memSensors{readings: map[sensor.Type][]sensor.Reading{}}
}

func (m *memSensors) check(t sensor.Type) error {
	if m.failWith != nil {
		return m.failWith
	}
	if !t.Valid() {
		return fmt.Errorf("sensor type %s: %w", t, core.ErrNotFound)
	}
	return nil
}

func (m *memSensors) List(ctx context.Context, t sensor.Type, f sensor.Filter) ([]sensor.Reading, error) {
	return m.list(t, nil, f)
}

func (m *memSensors) ListForDevices(ctx context.Context, t sensor.Type, deviceIDs []string, f sensor.Filter) ([]sensor.Reading, error) {
	if deviceIDs == nil {
		deviceIDs = []string{}
	}
	return m.list(t, deviceIDs, f)
}

func (m *memSensors) list(t sensor.Type, deviceIDs []string, f sensor.Filter) ([]sensor.Reading, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return nil, err
	}
	result := []sensor.Reading{}
	for _, rd := range m.readings[t] {
		if deviceIDs != nil && !contains(deviceIDs, rd.DeviceID) {
			continue
		}
		if f.Match(rd) {
			result = append(result, rd)
		}
	}
	switch f.OrderBy {
	case sensor.OrderValue:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Value < result[j].Value })
	case sensor.OrderTimestamp:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	}
	return result, nil
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func (m *memSensors) Latest(ctx context.Context, t sensor.Type, deviceIDs []string) (sensor.Reading, error) {
	readings, err := m.list(t, deviceIDs, sensor.Filter{OrderBy: sensor.OrderTimestamp})
	if err != nil {
		return sensor.Reading{}, err
	}
	if len(readings) == 0 {
		return sensor.Reading{}, fmt.Errorf("latest %s reading: %w", t, core.ErrNotFound)
	}
	return readings[len(readings)-1], nil
}

func (m *memSensors) find(t sensor.Type, id int64) (int, error) {
	for i, rd := range m.readings[t] {
		if rd.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s reading %d: %w", t, id, core.ErrNotFound)
}

func (m *memSensors) Get(ctx context.Context, t sensor.Type, id int64) (sensor.Reading, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return sensor.Reading{}, err
	}
	i, err := m.find(t, id)
	if err != nil {
		return sensor.Reading{}, err
	}
	return m.readings[t][i], nil
}

func (m *memSensors) Insert(ctx context.Context, t sensor.Type, rd sensor.Reading) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return 0, err
	}
	m.nextID++
	rd.ID = m.nextID
	if rd.Timestamp.IsZero() {
		rd.Timestamp = time.Now().Truncate(time.Second)
	}
	if rd.Unit == "" {
		rd.Unit = t.DefaultUnit()
	}
	m.readings[t] = append(m.readings[t], rd)
	return rd.ID, nil
}

func (m *memSensors) Update(ctx context.Context, t sensor.Type, id int64, patch sensor.Patch) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return core.Validation("", "no fields to update")
	}
	i, err := m.find(t, id)
	if err != nil {
		return err
	}
	rd := &m.readings[t][i]
	if patch.Value != nil {
		rd.Value = *patch.Value
	}
	if patch.Unit != nil {
		rd.Unit = *patch.Unit
	}
	if patch.Timestamp != nil {
		rd.Timestamp = *patch.Timestamp
	}
	if patch.DeviceID != nil {
		rd.DeviceID = *patch.DeviceID
	}
	return nil
}

func (m *memSensors) Delete(ctx context.Context, t sensor.Type, id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return err
	}
	i, err := m.find(t, id)
	if err != nil {
		return err
	}
	m.readings[t] = append(m.readings[t][:i], m.readings[t][i+1:]...)
	return nil
}

func (m *memSensors) Count(ctx context.Context, t sensor.Type) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(t); err != nil {
		return 0, err
	}
	return int64(len(m.readings[t])), nil
}

// memAccounts is an in-memory AccountStore
type memAccounts struct {
	mutex     sync.Mutex
	users     map[string]memUser
	sessions  map[string]int64
	usernames map[int64]string
}

type memUser struct {
	id       int64
	password string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{users: map[string]memUser{}, sessions: map[string]int64{}, usernames: map[int64]string{}}
}

func (m *memAccounts) SignUp(ctx context.Context, username, password string) (account.User, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if username == "" || password == "" {
		return account.User{}, core.Validation("username", "must not be empty")
	}
	if _, ok := m.users[username]; ok {
		return account.User{}, fmt.Errorf("username %q: %w", username, core.ErrConflict)
	}
	id := int64(len(m.users) + 1)
	m.users[username] = memUser{id: id, password: password}
	m.usernames[id] = username
	return account.User{ID: id, Username: username}, nil
}

func (m *memAccounts) Login(ctx context.Context, username, password string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	user, ok := m.users[username]
	if !ok || user.password != password {
		return "", fmt.Errorf("user %q: %w", username, core.ErrInvalidCredentials)
	}
	token := uuid.NewString()
	m.sessions[token] = user.id
	return token, nil
}

func (m *memAccounts) ResolveSession(ctx context.Context, token string) (*access.Authorization, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	id, ok := m.sessions[token]
	if !ok {
		return nil, fmt.Errorf("unknown session: %w", core.ErrUnauthorized)
	}
	return &access.Authorization{UserID: id, Username: m.usernames[id]}, nil
}

func (m *memAccounts) Logout(ctx context.Context, token string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, token)
	return nil
}

// memDevices is an in-memory DeviceStore
type memDevices struct {
	mutex     sync.Mutex
	devices   []device.Device
	usernames func(id int64) string
}

func (m *memDevices) Add(ctx context.Context, userID int64, deviceID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if deviceID == "" {
		return core.Validation("deviceId", "Device ID is required")
	}
	for _, d := range m.devices {
		if d.UserID == userID && d.DeviceID == deviceID {
			return fmt.Errorf("device %q: %w", deviceID, core.ErrConflict)
		}
	}
	m.devices = append(m.devices, device.Device{DeviceID: deviceID, UserID: userID, Username: m.usernames(userID), AddedAt: time.Now()})
	return nil
}

func (m *memDevices) filter(match func(d device.Device) bool) []device.Device {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	result := []device.Device{}
	for _, d := range m.devices {
		if match(d) {
			result = append(result, d)
		}
	}
	return result
}

func (m *memDevices) List(ctx context.Context, userID int64) ([]device.Device, error) {
	return m.filter(func(d device.Device) bool { return d.UserID == userID }), nil
}

func (m *memDevices) FindByDeviceID(ctx context.Context, deviceID string) ([]device.Device, error) {
	return m.filter(func(d device.Device) bool { return d.DeviceID == deviceID }), nil
}

func (m *memDevices) Owns(ctx context.Context, userID int64, deviceID string) (bool, error) {
	return len(m.filter(func(d device.Device) bool { return d.UserID == userID && d.DeviceID == deviceID })) > 0, nil
}

func (m *memDevices) DeviceIDs(ctx context.Context, userID int64) ([]string, error) {
	ids := []string{}
	for _, d := range m.filter(func(d device.Device) bool { return d.UserID == userID }) {
		ids = append(ids, d.DeviceID)
	}
	return ids, nil
}

func (m *memDevices) Delete(ctx context.Context, userID int64, deviceID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, d := range m.devices {
		if d.UserID == userID && d.DeviceID == deviceID {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("device %q: %w", deviceID, core.ErrNotFound)
}

// memWardrobe is an in-memory WardrobeStore
type memWardrobe struct {
	mutex sync.Mutex
	items map[int64][]wardrobe.Item
}

func (m *memWardrobe) List(ctx context.Context, userID int64) ([]wardrobe.Item, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]wardrobe.Item{}, m.items[userID]...), nil
}

func (m *memWardrobe) Replace(ctx context.Context, userID int64, items []wardrobe.Item) error {
	if err := wardrobe.Validate(items); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.items[userID] = items
	return nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }
