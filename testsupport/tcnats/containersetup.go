package tcnats

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NatsContainer is a nats server with jetstream enabled
type NatsContainer struct {
	testcontainers.Container
	URL string
}

// SetupNats starts a nats server and returns the client url
func SetupNats(ctx context.Context) (*NatsContainer, error) {
	port, err := nat.NewPort("tcp", "4222")
	if err != nil {
		return nil, err
	}
	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "nats:2.10",
				Cmd:          []string{"-js"},
				ExposedPorts: []string{string(port)},
				WaitingFor: wait.ForLog("Server is ready").
					WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
	if err != nil {
		return nil, err
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return nil, err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	return &NatsContainer{
		Container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, mapped.Port()),
	}, nil
}
