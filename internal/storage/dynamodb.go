package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) LookupAgent(ctx context.Context, companyID, agentHandle string) (types.AgentRecord, error) {
	var rec types.AgentRecord
	found, err := s.getItem(ctx, s.config.AgentsTable, map[string]dbtypes.AttributeValue{
		"CompanyID":   &dbtypes.AttributeValueMemberS{Value: companyID},
		"AgentHandle": &dbtypes.AttributeValueMemberS{Value: agentHandle},
	}, &rec)
	if err != nil {
		return types.AgentRecord{}, fmt.Errorf("failed to get agent: %w", err)
	}
	if !found {
		return types.AgentRecord{}, fmt.Errorf("agent %s/%s: %w", companyID, agentHandle, types.ErrNotFound)
	}
	return rec, nil
}

func (s *DynamoDBStore) LookupCompany(ctx context.Context, companyID string) (types.CompanyRecord, error) {
	var rec types.CompanyRecord
	found, err := s.getItem(ctx, s.config.CompaniesTable, map[string]dbtypes.AttributeValue{
		"CompanyID": &dbtypes.AttributeValueMemberS{Value: companyID},
	}, &rec)
	if err != nil {
		return types.CompanyRecord{}, fmt.Errorf("failed to get company: %w", err)
	}
	if !found {
		return types.CompanyRecord{}, fmt.Errorf("company %s: %w", companyID, types.ErrNotFound)
	}
	return rec, nil
}

func (s *DynamoDBStore) getItem(ctx context.Context, table string, key map[string]dbtypes.AttributeValue, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return false, err
	}
	if len(result.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

func (s *DynamoDBStore) putItem(ctx context.Context, table string, in interface{}) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	return err
}

func (s *DynamoDBStore) PutAgent(ctx context.Context, record types.AgentRecord) error {
	if err := s.putItem(ctx, s.config.AgentsTable, record); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) PutCompany(ctx context.Context, record types.CompanyRecord) error {
	if err := s.putItem(ctx, s.config.CompaniesTable, record); err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) SaveSessionRecord(ctx context.Context, record types.SessionRecord) error {
	if err := s.putItem(ctx, s.config.SessionsTable, record); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetSessionRecords(ctx context.Context, companyID, date string) ([]types.SessionRecord, error) {
	keyCond := expression.Key("CompanyDate").Equal(expression.Value(types.CompanyDateKey(companyID, date)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var records []types.SessionRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query session records: %w", err)
		}
		var batch []types.SessionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session records: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

// TruncateAll deletes all items from every table (scan + batch delete)
func (s *DynamoDBStore) TruncateAll(ctx context.Context) error {
	for _, table := range tableKeys(s.config) {
		if err := s.truncateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) truncateTable(ctx context.Context, table tableKey) error {
	var lastKey map[string]dbtypes.AttributeValue

	projection := "#pk"
	names := map[string]string{"#pk": table.pk}
	if table.sk != "" {
		projection = "#pk, #sk"
		names["#sk"] = table.sk
	}

	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(table.name),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
			Limit:                    aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}

		// Batch delete in groups of 25
		for i := 0; i < len(result.Items); i += 25 {
			end := i + 25
			if end > len(result.Items) {
				end = len(result.Items)
			}

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				key := map[string]dbtypes.AttributeValue{table.pk: item[table.pk]}
				if table.sk != "" {
					key[table.sk] = item[table.sk]
				}
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{Key: key},
				})
			}

			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}
