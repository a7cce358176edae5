// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompose_Full(t *testing.T) {
	content := []byte(`
services:
  web:
    container_name: app-web
    image: nginx:1.27
    ports:
      - "8080:80"
      - published: 8443
        target: 443
    networks:
      - frontend
    volumes:
      - ./conf:/etc/nginx
      - type: bind
        source: ./certs
        target: /certs
    environment:
      API_URL: http://api:9000
      DEBUG: "false"
  api:
    build: .
    networks:
      frontend:
      backend:
        aliases: [core]
    environment:
      - DATABASE_URL=postgres://u:p@db/app
      - LOG_LEVEL=info
`)
	services := ParseCompose(content)
	require.Len(t, services, 2)

	api := services[0]
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, "custom (build)", api.Image)
	assert.Equal(t, []string{"backend", "frontend"}, api.Networks)
	assert.Equal(t, []string{"DATABASE_URL", "LOG_LEVEL"}, api.EnvKeys)

	web := services[1]
	assert.Equal(t, "app-web", web.Name)
	assert.Equal(t, "nginx:1.27", web.Image)
	assert.Equal(t, []string{"8080:80", "8443:443"}, web.Ports)
	assert.Equal(t, []string{"frontend"}, web.Networks)
	assert.Equal(t, []string{"./conf", "./certs"}, web.Volumes)
	assert.ElementsMatch(t, []string{"API_URL", "DEBUG"}, web.EnvKeys)
}

func TestParseCompose_FallbackOnBrokenYAML(t *testing.T) {
	content := []byte(`
services:
  web:
    image: nginx:1.27
	badindent: tabs are not yaml
  worker:
    image: redis:7
`)
	services := ParseCompose(content)
	require.NotEmpty(t, services)
	assert.Equal(t, "web", services[0].Name)
	assert.Equal(t, "nginx:1.27", services[0].Image)
}

func TestParseCompose_NotCompose(t *testing.T) {
	assert.Empty(t, ParseCompose([]byte("just: a\nplain: file\n")))
}

func TestIsComposeFile(t *testing.T) {
	assert.True(t, isComposeFile("docker-compose.yml"))
	assert.True(t, isComposeFile("docker-compose.yaml"))
	assert.True(t, isComposeFile("compose.yml"))
	assert.True(t, isComposeFile("Compose.yaml"))
	assert.False(t, isComposeFile("docker-compose.prod.yml"))
	assert.False(t, isComposeFile("deployment.yml"))
}

func TestStackName(t *testing.T) {
	assert.Equal(t, "app", stackName("stacks/app/docker-compose.yml"))
	assert.Equal(t, "docker-compose", stackName("docker-compose.yml"))
}
