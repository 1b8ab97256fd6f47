package io

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/fixturebox/internal/model"
)

func TestFixtureSetYAMLRepositoryGetFixtureSet(t *testing.T) {
	tests := map[string]struct {
		data   string
		expSet model.FixtureSet
		expErr bool
	}{
		"A service fixture should load with its options.": {
			data: `
fixtures:
  - name: cache
    service: redis
    version: "7.2"
    port: 16379
    password: s3cret
    remove_image: true
    wait:
      poll_interval: 500ms
      timeout: 30s
`,
			expSet: model.FixtureSet{Fixtures: []model.FixtureSpec{
				{
					Name:         "cache",
					Service:      model.ServiceKindRedis,
					Version:      "7.2",
					Port:         16379,
					Password:     "s3cret",
					RemoveImage:  true,
					PollInterval: 500 * time.Millisecond,
					ReadyTimeout: 30 * time.Second,
				},
			}},
		},

		"A generic fixture should load with its port bindings.": {
			data: `
fixtures:
  - name: web
    image: nginx:1.27
    ports: ["8080:80", "0.0.0.0:8443:443/tcp"]
    env:
      FOO: bar
    cmd: ["nginx", "-g", "daemon off;"]
`,
			expSet: model.FixtureSet{Fixtures: []model.FixtureSpec{
				{
					Name:    "web",
					Service: model.ServiceKindGeneric,
					Image:   "nginx:1.27",
					PortBindings: []model.PortBinding{
						{ContainerPort: 80, HostPort: 8080},
						{ContainerPort: 443, Protocol: "tcp", HostIP: "0.0.0.0", HostPort: 8443},
					},
					Env: map[string]string{"FOO": "bar"},
					Cmd: []string{"nginx", "-g", "daemon off;"},
				},
			}},
		},

		"Multiple fixtures should keep their order.": {
			data: `
fixtures:
  - name: db
    service: mongodb
  - name: broker
    service: rabbitmq
`,
			expSet: model.FixtureSet{Fixtures: []model.FixtureSpec{
				{Name: "db", Service: model.ServiceKindMongoDB},
				{Name: "broker", Service: model.ServiceKindRabbitMQ},
			}},
		},

		"An empty set should fail.": {
			data:   `fixtures: []`,
			expErr: true,
		},

		"A fixture without name should fail.": {
			data: `
fixtures:
  - service: redis
`,
			expErr: true,
		},

		"Duplicated names should fail.": {
			data: `
fixtures:
  - name: cache
    service: redis
  - name: cache
    service: redis
`,
			expErr: true,
		},

		"An unknown service should fail.": {
			data: `
fixtures:
  - name: db
    service: postgres
`,
			expErr: true,
		},

		"A generic fixture without image should fail.": {
			data: `
fixtures:
  - name: web
    ports: ["8080:80"]
`,
			expErr: true,
		},

		"Ports on a service fixture should fail.": {
			data: `
fixtures:
  - name: cache
    service: redis
    ports: ["16379:6379"]
`,
			expErr: true,
		},

		"Env on a service fixture should fail.": {
			data: `
fixtures:
  - name: cache
    service: redis
    env:
      FOO: bar
`,
			expErr: true,
		},

		"An invalid port binding should fail.": {
			data: `
fixtures:
  - name: web
    image: nginx:1.27
    ports: ["a:b"]
`,
			expErr: true,
		},

		"An invalid duration should fail.": {
			data: `
fixtures:
  - name: cache
    service: redis
    wait:
      timeout: soon
`,
			expErr: true,
		},

		"Invalid YAML should fail.": {
			data:   `fixtures: {`,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewFixtureSetYAMLRepository(fstest.MapFS{
				"fixtures.yaml": &fstest.MapFile{Data: []byte(test.data)},
			})

			set, err := repo.GetFixtureSet(context.Background(), "fixtures.yaml")
			if test.expErr {
				assert.Error(t, err)
			} else if assert.NoError(t, err) {
				assert.Equal(t, test.expSet, set)
			}
		})
	}
}

func TestFixtureSetYAMLRepositoryMissingFile(t *testing.T) {
	repo := NewFixtureSetYAMLRepository(fstest.MapFS{})
	_, err := repo.GetFixtureSet(context.Background(), "missing.yaml")
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrNotValid))
}
