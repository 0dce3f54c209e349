package projectcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const composeBase = `
services:
  s3:
    image: localstack/localstack
    ports: ["127.0.0.1:4566:4566/tcp"]
    environment:
      SERVICES: s3
    volumes:
      - s3data:/var/lib/localstack
  azurite:
    image: azurite
    ports:
      - "10000-10002:10000-10002"
    volumes:
      - type: volume
        source: azdata
        target: /data
  mb:
    image: amazon/aws-cli
    entrypoint: ["/bin/sh", "-c", "sleep 5 && aws s3 mb s3://test-bucket"]
volumes:
  s3data: {}
  azdata: {}
`

func TestCheckCompose(t *testing.T) {
	fs := CheckCompose("docker-compose.yml", []byte(composeBase))

	for _, f := range fs {
		assert.True(t, f.OK, f.String())
	}
	got := findingsByCheck(fs)
	assert.Contains(t, got["compose.s3_emulator"].Message, `"s3"`)
	assert.Contains(t, got["compose.azure_emulator"].Message, `"azurite"`)
	assert.Contains(t, got["compose.provision"].Message, `"mb"`)
}

func TestCheckCompose_Failures(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check string
	}{
		{
			name: "s3 port missing",
			data: `
services:
  s3:
    ports: ["4567:4567"]
`,
			check: "compose.s3_emulator",
		},
		{
			name: "azure table port missing",
			data: `
services:
  azurite:
    ports: ["10000:10000", "10001:10001"]
`,
			check: "compose.azure_emulator",
		},
		{
			name: "s3 emulator runs extra services",
			data: `
services:
  s3:
    ports: [4566]
    environment: ["SERVICES=s3,sqs"]
`,
			check: "compose.s3_services",
		},
		{
			name: "undeclared volume",
			data: `
services:
  s3:
    ports: ["4566:4566"]
    volumes: ["ghost:/data", "./local:/seed"]
`,
			check: "compose.volumes",
		},
		{
			name: "bind mounts only",
			data: `
services:
  s3:
    ports: ["4566:4566"]
    volumes: ["./data:/data"]
`,
			check: "compose.volumes",
		},
		{
			name: "provisioner does not wait",
			data: `
services:
  mb:
    command: aws s3 mb s3://test-bucket
`,
			check: "compose.provision",
		},
		{
			name: "bad port",
			data: `
services:
  s3:
    ports: ["abc:def"]
`,
			check: "compose.ports",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findingsByCheck(CheckCompose("docker-compose.yml", []byte(tt.data)))
			require.Contains(t, got, tt.check)
			assert.False(t, got[tt.check].OK, got[tt.check].Message)
		})
	}
}

func TestCheckCompose_Parse(t *testing.T) {
	fs := CheckCompose("docker-compose.yml", []byte("services: [unclosed"))
	require.Len(t, fs, 1)
	assert.False(t, fs[0].OK)

	fs = CheckCompose("docker-compose.yml", []byte("version: '3'\n"))
	require.Len(t, fs, 1)
	assert.Equal(t, "no services defined", fs[0].Message)
}

func TestContainerPorts(t *testing.T) {
	got, err := containerPorts([]any{
		4566,
		"8080:80",
		"0.0.0.0:9000-9001:19000-19001/udp",
		map[string]any{"target": 5432, "published": "15432"},
		map[string]any{"target": "6379"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{4566: true, 80: true, 19000: true, 19001: true, 5432: true, 6379: true}, got)

	_, err = containerPorts([]any{"9-1"})
	assert.Error(t, err)
	_, err = containerPorts([]any{map[string]any{"published": 1}})
	assert.Error(t, err)
}

func TestVolumeSource(t *testing.T) {
	assert.Equal(t, "data", volumeSource("data:/var/lib/data"))
	assert.Equal(t, "", volumeSource("./data:/var/lib/data"))
	assert.Equal(t, "", volumeSource("/srv/data:/data:ro"))
	assert.Equal(t, "", volumeSource("/anonymous"))
	assert.Equal(t, "named", volumeSource(map[string]any{"type": "volume", "source": "named"}))
	assert.Equal(t, "", volumeSource(map[string]any{"type": "bind", "source": "named"}))
}
