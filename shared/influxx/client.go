package influxx

import (
	"context"
	"errors"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"berthing-hub/shared/config"
	"berthing-hub/shared/metricsx"
)

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, errors.New("INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required")
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(max(1, cfg.InfluxTimeoutMS/1000)))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	return &Client{client: client, org: cfg.InfluxOrg, bucket: cfg.InfluxBucket}, nil
}

// WritePoints writes in one blocking request and counts failures.
func (c *Client) WritePoints(ctx context.Context, points ...*write.Point) error {
	if c == nil || c.client == nil {
		return errors.New("influx client not initialized")
	}
	if len(points) == 0 {
		return nil
	}
	writeAPI := c.client.WriteAPIBlocking(c.org, c.bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		metricsx.IncInfluxWriteFailure()
		return err
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
