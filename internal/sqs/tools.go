package sqs

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/tools"
)

type listQueuesArgs struct {
	QueueNamePrefix string `json:"queue_name_prefix,omitempty" jsonschema:"description=Filter queues by name prefix"`
	MaxResults      int    `json:"max_results,omitempty" jsonschema:"description=Maximum queues to return (default 100 and max 1000)"`
}

type getQueueAttributesArgs struct {
	QueueURL string `json:"queue_url" jsonschema:"required,description=SQS queue URL"`
}

type peekMessagesArgs struct {
	QueueURL        string `json:"queue_url" jsonschema:"required,description=SQS queue URL"`
	MaxMessages     int    `json:"max_messages,omitempty" jsonschema:"description=Maximum messages to peek at (1-10 and default 10)"`
	WaitTimeSeconds int    `json:"wait_time_seconds,omitempty" jsonschema:"description=Long polling wait time (0-20 seconds)"`
}

type getQueueURLArgs struct {
	QueueName string `json:"queue_name" jsonschema:"required,description=Name of the SQS queue"`
	AccountID string `json:"account_id,omitempty" jsonschema:"description=AWS account ID (for cross-account access)"`
}

// Tools returns the queue-family tool set backed by c.
func Tools(c *Client) []tools.Tool {
	return []tools.Tool{
		tools.NewFunc("sqs_list_queues", core.FamilyQueue, true,
			"List AWS SQS queues. Use this to discover available queues or find a specific queue by name prefix.",
			func(ctx context.Context, a listQueuesArgs) (string, error) {
				return listQueues(ctx, c, a)
			}),
		tools.NewFunc("sqs_get_queue_attributes", core.FamilyQueue, true,
			"Get SQS queue attributes: message counts, age of oldest message, DLQ config, and FIFO settings.",
			func(ctx context.Context, a getQueueAttributesArgs) (string, error) {
				return getQueueAttributes(ctx, c, a)
			}),
		tools.NewFunc("sqs_peek_messages", core.FamilyQueue, true,
			"Peek at messages in an SQS queue without removing them. Messages stay visible for other consumers.",
			func(ctx context.Context, a peekMessagesArgs) (string, error) {
				return peekMessages(ctx, c, a)
			}),
		tools.NewFunc("sqs_get_queue_url", core.FamilyQueue, true,
			"Get the URL of an SQS queue by its name.",
			func(ctx context.Context, a getQueueURLArgs) (string, error) {
				return getQueueURL(ctx, c, a)
			}),
	}
}

func queueName(url string) string {
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

func listQueues(ctx context.Context, c *Client, a listQueuesArgs) (string, error) {
	max := a.MaxResults
	if max <= 0 {
		max = 100
	}
	if max > 1000 {
		max = 1000
	}

	in := &awssqs.ListQueuesInput{MaxResults: aws.Int32(int32(max))}
	if a.QueueNamePrefix != "" {
		in.QueueNamePrefix = aws.String(a.QueueNamePrefix)
	}

	out, err := c.sqs.ListQueues(ctx, in)
	if err != nil {
		return "", err
	}

	type queueOut struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	queues := make([]queueOut, 0, len(out.QueueUrls))
	for _, url := range out.QueueUrls {
		queues = append(queues, queueOut{URL: url, Name: queueName(url)})
	}

	return tools.RenderJSON(map[string]any{
		"queues": queues,
		"count":  len(queues),
	})
}

func getQueueAttributes(ctx context.Context, c *Client, a getQueueAttributesArgs) (string, error) {
	out, err := c.sqs.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(a.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameAll},
	})
	if err != nil {
		return "", err
	}
	attrs := out.Attributes

	atoi := func(key string) int {
		n, _ := strconv.Atoi(attrs[key])
		return n
	}

	metrics := map[string]any{
		"approximate_messages":             atoi("ApproximateNumberOfMessages"),
		"approximate_messages_delayed":     atoi("ApproximateNumberOfMessagesDelayed"),
		"approximate_messages_not_visible": atoi("ApproximateNumberOfMessagesNotVisible"),
	}
	if raw, ok := attrs["ApproximateAgeOfOldestMessage"]; ok {
		ageSec, _ := strconv.Atoi(raw)
		metrics["oldest_message_age_seconds"] = ageSec
		metrics["oldest_message_age_minutes"] = math.Round(float64(ageSec)/60*100) / 100
		metrics["oldest_message_age_hours"] = math.Round(float64(ageSec)/3600*100) / 100
	}

	result := map[string]any{
		"queue_url":  a.QueueURL,
		"queue_name": queueName(a.QueueURL),
		"metrics":    metrics,
		"configuration": map[string]any{
			"visibility_timeout_seconds": atoi("VisibilityTimeout"),
			"message_retention_seconds":  atoi("MessageRetentionPeriod"),
			"max_message_size_bytes":     atoi("MaximumMessageSize"),
			"delay_seconds":              atoi("DelaySeconds"),
		},
		"timestamps": map[string]any{
			"created":       attrs["CreatedTimestamp"],
			"last_modified": attrs["LastModifiedTimestamp"],
		},
	}

	if raw, ok := attrs["RedrivePolicy"]; ok {
		var redrive struct {
			DeadLetterTargetArn string `json:"deadLetterTargetArn"`
			MaxReceiveCount     any    `json:"maxReceiveCount"`
		}
		if err := json.Unmarshal([]byte(raw), &redrive); err == nil {
			result["dead_letter_queue"] = map[string]any{
				"target_arn":        redrive.DeadLetterTargetArn,
				"max_receive_count": redrive.MaxReceiveCount,
			}
		}
	}

	isFifo := strings.EqualFold(attrs["FifoQueue"], "true")
	result["is_fifo"] = isFifo
	if isFifo {
		result["fifo_config"] = map[string]any{
			"content_based_deduplication": strings.EqualFold(attrs["ContentBasedDeduplication"], "true"),
			"deduplication_scope":         attrs["DeduplicationScope"],
			"fifo_throughput_limit":       attrs["FifoThroughputLimit"],
		}
	}

	return tools.RenderJSON(result)
}

func peekMessages(ctx context.Context, c *Client, a peekMessagesArgs) (string, error) {
	max := a.MaxMessages
	if max <= 0 {
		max = 10
	}
	if max > 10 {
		max = 10
	}
	wait := a.WaitTimeSeconds
	if wait < 0 {
		wait = 0
	}
	if wait > 20 {
		wait = 20
	}

	// VisibilityTimeout of 0 keeps the messages visible to consumers:
	// this is a peek, never a dequeue.
	out, err := c.sqs.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(a.QueueURL),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       int32(wait),
		VisibilityTimeout:     0,
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return "", err
	}

	type msgOut struct {
		MessageID         string         `json:"message_id"`
		Body              any            `json:"body"`
		BodyRaw           string         `json:"body_raw"`
		MD5OfBody         string         `json:"md5_of_body,omitempty"`
		SentTimestamp     string         `json:"sent_timestamp,omitempty"`
		ReceiveCount      int            `json:"approximate_receive_count"`
		FirstReceiveTS    string         `json:"approximate_first_receive_timestamp,omitempty"`
		SenderID          string         `json:"sender_id,omitempty"`
		MessageAttributes map[string]any `json:"message_attributes,omitempty"`
	}

	var messages []msgOut
	for _, m := range out.Messages {
		body := aws.ToString(m.Body)
		var parsed any = body
		var asJSON any
		if err := json.Unmarshal([]byte(body), &asJSON); err == nil {
			parsed = asJSON
		}
		raw := body
		if r := []rune(raw); len(r) > 1000 {
			raw = string(r[:1000]) + "..."
		}

		receiveCount, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		msgAttrs := map[string]any{}
		for k, v := range m.MessageAttributes {
			if v.StringValue != nil {
				msgAttrs[k] = *v.StringValue
			} else if v.BinaryValue != nil {
				msgAttrs[k] = v.BinaryValue
			}
		}

		messages = append(messages, msgOut{
			MessageID:         aws.ToString(m.MessageId),
			Body:              parsed,
			BodyRaw:           raw,
			MD5OfBody:         aws.ToString(m.MD5OfBody),
			SentTimestamp:     m.Attributes["SentTimestamp"],
			ReceiveCount:      receiveCount,
			FirstReceiveTS:    m.Attributes["ApproximateFirstReceiveTimestamp"],
			SenderID:          m.Attributes["SenderId"],
			MessageAttributes: msgAttrs,
		})
	}

	return tools.RenderJSON(map[string]any{
		"queue_url":  a.QueueURL,
		"queue_name": queueName(a.QueueURL),
		"messages":   messages,
		"count":      len(messages),
		"note":       "Messages peeked with visibility_timeout=0 (not removed from queue)",
	})
}

func getQueueURL(ctx context.Context, c *Client, a getQueueURLArgs) (string, error) {
	in := &awssqs.GetQueueUrlInput{QueueName: aws.String(a.QueueName)}
	if a.AccountID != "" {
		in.QueueOwnerAWSAccountId = aws.String(a.AccountID)
	}
	out, err := c.sqs.GetQueueUrl(ctx, in)
	if err != nil {
		return "", err
	}
	return tools.RenderJSON(map[string]any{
		"queue_name": a.QueueName,
		"queue_url":  aws.ToString(out.QueueUrl),
	})
}
