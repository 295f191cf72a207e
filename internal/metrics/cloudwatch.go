package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/logger"
)

const (
	namespace                = "Neurotune/API"
	httpStatusServerError    = 500
	cloudwatchTimeoutSeconds = 5
)

// putMetricDataAPI is the subset of the CloudWatch client used here
type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Client wraps CloudWatch client for custom metrics
type Client struct {
	client      putMetricDataAPI
	enabled     bool
	environment string
}

// NewClient creates a new CloudWatch metrics client. It is only enabled in production.
func NewClient(ctx context.Context, environment string) *Client {
	if environment != "production" {
		logger.Info("📊 CloudWatch Metrics: DISABLED", logger.Fields{"environment": environment})
		return &Client{environment: environment}
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Warn("Failed to load AWS config for CloudWatch", logger.Fields{"error": err.Error()})
		return &Client{environment: environment}
	}

	logger.Info("📊 CloudWatch Metrics: ✅ ENABLED", logger.Fields{"namespace": namespace})
	return &Client{
		client:      cloudwatch.NewFromConfig(cfg),
		enabled:     true,
		environment: environment,
	}
}

func (m *Client) envDimension() types.Dimension {
	return types.Dimension{Name: aws.String("Environment"), Value: aws.String(m.environment)}
}

// RecordAPIRequest records an API request metric
func (m *Client) RecordAPIRequest(_ context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	go func() {
		metricName := "APIRequests"
		if statusCode >= httpStatusServerError {
			metricName = "APIErrors"
		}
		dimensions := []types.Dimension{
			{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
			m.envDimension(),
		}

		m.send(
			datum(metricName, 1, types.StandardUnitCount, dimensions),
			datum("APILatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions),
		)
	}()
}

// RecordTokenUsage records LLM token usage
func (m *Client) RecordTokenUsage(_ context.Context, model string, usage llm.TokenUsage) {
	if !m.enabled {
		return
	}

	go func() {
		dimensions := []types.Dimension{
			{Name: aws.String("Model"), Value: aws.String(model)},
			m.envDimension(),
		}

		data := []types.MetricDatum{
			datum("LLMTokens/Total", float64(usage.TotalTokens), types.StandardUnitCount, dimensions),
			datum("LLMTokens/Input", float64(usage.InputTokens), types.StandardUnitCount, dimensions),
			datum("LLMTokens/Output", float64(usage.OutputTokens), types.StandardUnitCount, dimensions),
		}
		if usage.ReasoningTokens > 0 {
			data = append(data, datum("LLMTokens/Reasoning", float64(usage.ReasoningTokens), types.StandardUnitCount, dimensions))
		}
		m.send(data...)
	}()
}

// RecordAttempt counts attempts by outcome category
func (m *Client) RecordAttempt(_ context.Context, attempt int, category string, duration time.Duration) {
	if !m.enabled {
		return
	}

	go func() {
		dimensions := []types.Dimension{
			{Name: aws.String("Category"), Value: aws.String(category)},
			{Name: aws.String("Attempt"), Value: aws.String(strconv.Itoa(attempt))},
			m.envDimension(),
		}
		m.send(
			datum("ScheduleAttempts", 1, types.StandardUnitCount, dimensions),
			datum("ScheduleAttemptLatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions),
		)
	}()
}

// RecordGeneration records one Generate outcome by source
func (m *Client) RecordGeneration(_ context.Context, source string, attempts int, duration time.Duration) {
	if !m.enabled {
		return
	}

	go func() {
		dimensions := []types.Dimension{
			{Name: aws.String("Source"), Value: aws.String(source)},
			m.envDimension(),
		}
		m.send(
			datum("ScheduleGenerations", 1, types.StandardUnitCount, dimensions),
			datum("ScheduleGenerationAttempts", float64(attempts), types.StandardUnitCount, dimensions),
			datum("GenerationDuration", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions),
		)
	}()
}

func datum(name string, value float64, unit types.StandardUnit, dimensions []types.Dimension) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dimensions,
	}
}

// send writes data in one PutMetricData call with its own timeout
func (m *Client) send(data ...types.MetricDatum) {
	if !m.enabled || m.client == nil {
		return
	}

	cwCtx, cancel := context.WithTimeout(context.Background(), cloudwatchTimeoutSeconds*time.Second)
	defer cancel()

	_, err := m.client.PutMetricData(cwCtx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	})
	if err != nil {
		logger.Warn("Failed to record CloudWatch metrics", logger.Fields{"error": err.Error(), "count": len(data)})
	}
}
