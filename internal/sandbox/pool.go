package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// PoolConfig bounds the resources granted to every pooled container,
// matching the isolation requirements: <=1 CPU, <=256 MiB memory, no
// network, read-only root filesystem with a small writable tmpfs, and a
// non-root user.
type PoolConfig struct {
	Image        string
	Size         int
	MemoryBytes  int64
	NanoCPUs     int64
	TmpfsBytes   int64
	User         string
}

const (
	defaultPoolMemoryBytes = 256 * 1024 * 1024
	defaultPoolNanoCPUs    = 1_000_000_000
	defaultPoolTmpfsBytes  = 10 * 1024 * 1024
	defaultPoolUser        = "nobody"
)

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Size <= 0 {
		c.Size = 2
	}
	if c.MemoryBytes <= 0 {
		c.MemoryBytes = defaultPoolMemoryBytes
	}
	if c.NanoCPUs <= 0 {
		c.NanoCPUs = defaultPoolNanoCPUs
	}
	if c.TmpfsBytes <= 0 {
		c.TmpfsBytes = defaultPoolTmpfsBytes
	}
	if c.User == "" {
		c.User = defaultPoolUser
	}
	return c
}

// pool manages pre-warmed containers for a single language image,
// generalized from a single-image pool to one pool per language.
type pool struct {
	cli        *client.Client
	config     PoolConfig
	logger     *zap.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
}

func newPool(cli *client.Client, cfg PoolConfig, logger *zap.Logger) *pool {
	cfg = cfg.withDefaults()
	return &pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.Size),
		done:       make(chan struct{}),
	}
}

func (p *pool) start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.manage()
	})
}

func (p *pool) stop() {
	close(p.done)
	p.wg.Wait()
	for {
		select {
		case id := <-p.containers:
			p.remove(id)
		default:
			return
		}
	}
}

func (p *pool) get(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *pool) manage() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		default:
			if len(p.containers) >= cap(p.containers) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			id, err := p.create()
			if err != nil {
				p.logger.Warn("failed to create pooled container", zap.String("image", p.config.Image), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			select {
			case p.containers <- id:
			case <-p.done:
				p.remove(id)
				return
			}
		}
	}
}

func (p *pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/work": fmt.Sprintf("size=%d", p.config.TmpfsBytes)},
		Resources: container.Resources{
			Memory:   p.config.MemoryBytes,
			NanoCPUs: p.config.NanoCPUs,
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image: p.config.Image,
		Cmd:   []string{"sleep", "infinity"},
		User:  p.config.User,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("container start: %w", err)
	}
	return resp.ID, nil
}

func (p *pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
