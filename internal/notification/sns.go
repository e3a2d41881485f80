package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier sends SMS messages via AWS SNS.
type SNSNotifier struct {
	client      snsPublisher
	countryCode string
	senderID    string
}

// NewSNSNotifier loads the default AWS credential chain for region.
func NewSNSNotifier(ctx context.Context, region, countryCode, senderID string) (*SNSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSNotifier{client: sns.NewFromConfig(awsCfg), countryCode: countryCode, senderID: senderID}, nil
}

// Send publishes a transactional SMS to the destination number.
func (n *SNSNotifier) Send(ctx context.Context, message Message) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(n.e164(message.Destination)),
		Message:     aws.String(message.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if n.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(n.senderID),
		}
	}
	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (n *SNSNotifier) e164(number string) string {
	if strings.HasPrefix(number, "+") {
		return number
	}
	return n.countryCode + number
}
