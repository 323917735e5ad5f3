package provider

import "github.com/pinotpulse/ingest/pkg/model"

// The built-in provider catalog. Field schemas mirror the admin console
// forms; conditional credential requirements are expressed with
// VisibleWhen so the validator and the console agree on what applies.

const (
	CategoryStreaming   = "streaming"
	CategoryWarehouse   = "warehouse"
	CategoryFile        = "file"
	CategoryAPI         = "api"
	CategoryCoreBanking = "core_banking"
)

var awsRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-central-1",
	"ap-southeast-1", "ap-northeast-1",
}

var timezones = []string{"UTC", "US/Eastern", "US/Central", "US/Mountain", "US/Pacific"}

func scheduleFields(defaultCron, defaultTZ string) []FieldSpec {
	return []FieldSpec{
		{Name: "schedule_expression", Label: "Cron Schedule", Type: FieldString, Default: defaultCron},
		{Name: "schedule_timezone", Label: "Timezone", Type: FieldSelect, Options: timezones, Default: defaultTZ},
	}
}

func incrementalFields(defaultWatermark string) []FieldSpec {
	return []FieldSpec{
		{Name: "incremental_enabled", Label: "Incremental Sync", Type: FieldBool, Default: true},
		{Name: "watermark_column", Label: "Watermark Column", Type: FieldString, Default: defaultWatermark,
			VisibleWhen: map[string][]string{"incremental_enabled": {"true"}}},
	}
}

func init() {
	mustRegister(&Spec{
		Kind:        "kafka",
		DisplayName: "Apache Kafka",
		Category:    CategoryStreaming,
		Mode:        model.ModeStreaming,
		ConfigFields: []FieldSpec{
			{Name: "bootstrap_servers", Label: "Bootstrap Servers", Type: FieldString, Required: true},
			{Name: "consumer_group", Label: "Consumer Group ID", Type: FieldString, Required: true},
			{Name: "topics", Label: "Topics", Type: FieldList, Required: true},
			{Name: "security_protocol", Label: "Security Protocol", Type: FieldSelect,
				Options: []string{"PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL"}, Default: "SASL_SSL"},
			{Name: "sasl_mechanism", Label: "SASL Mechanism", Type: FieldSelect,
				Options: []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512", "OAUTHBEARER"},
				Default: "SCRAM-SHA-512",
				VisibleWhen: map[string][]string{"security_protocol": {"SASL_PLAINTEXT", "SASL_SSL"}}},
			{Name: "schema_registry_url", Label: "Schema Registry URL", Type: FieldString},
			{Name: "auto_offset_reset", Label: "Auto Offset Reset", Type: FieldSelect,
				Options: []string{"earliest", "latest"}, Default: "earliest"},
			{Name: "max_poll_records", Label: "Max Poll Records", Type: FieldInt, Default: 500},
			{Name: "session_timeout_ms", Label: "Session Timeout (ms)", Type: FieldInt, Default: 30000},
			{Name: "heartbeat_interval_ms", Label: "Heartbeat (ms)", Type: FieldInt, Default: 10000},
			{Name: "fetch_min_bytes", Label: "Fetch Min Bytes", Type: FieldInt, Default: 1},
			{Name: "fetch_max_wait_ms", Label: "Fetch Max Wait (ms)", Type: FieldInt, Default: 500},
			{Name: "key_format", Label: "Key Format", Type: FieldSelect,
				Options: []string{"string", "json", "avro", "bytes"}, Default: "string"},
			{Name: "value_format", Label: "Value Format", Type: FieldSelect,
				Options: []string{"json", "avro", "protobuf", "string"}, Default: "json"},
		},
		CredFields: []FieldSpec{
			{Name: "sasl_username", Label: "SASL Username", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"security_protocol": {"SASL_PLAINTEXT", "SASL_SSL"}}},
			{Name: "sasl_password", Label: "SASL Password", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"security_protocol": {"SASL_PLAINTEXT", "SASL_SSL"}}},
		},
	})

	mustRegister(&Spec{
		Kind:        "confluent",
		DisplayName: "Confluent Cloud",
		Category:    CategoryStreaming,
		Mode:        model.ModeStreaming,
		ConfigFields: []FieldSpec{
			{Name: "bootstrap_servers", Label: "Bootstrap Server", Type: FieldString, Required: true},
			{Name: "consumer_group", Label: "Consumer Group ID", Type: FieldString, Required: true},
			{Name: "topics", Label: "Topics", Type: FieldList, Required: true},
			{Name: "cluster_id", Label: "Cluster ID", Type: FieldString},
			{Name: "environment_id", Label: "Environment ID", Type: FieldString},
			{Name: "schema_registry_url", Label: "Schema Registry URL", Type: FieldString},
			{Name: "auto_offset_reset", Label: "Auto Offset Reset", Type: FieldSelect,
				Options: []string{"earliest", "latest"}, Default: "earliest"},
			{Name: "max_poll_records", Label: "Max Poll Records", Type: FieldInt, Default: 500},
			{Name: "value_format", Label: "Value Format", Type: FieldSelect,
				Options: []string{"json", "avro", "protobuf"}, Default: "json"},
		},
		CredFields: []FieldSpec{
			{Name: "api_key", Label: "Confluent API Key", Type: FieldString, Required: true},
			{Name: "api_secret", Label: "Confluent API Secret", Type: FieldPassword, Required: true},
		},
	})

	mustRegister(&Spec{
		Kind:        "kinesis",
		DisplayName: "AWS Kinesis",
		Category:    CategoryStreaming,
		Mode:        model.ModeStreaming,
		ConfigFields: []FieldSpec{
			{Name: "stream_name", Label: "Stream Name", Type: FieldString, Required: true},
			{Name: "region", Label: "AWS Region", Type: FieldSelect, Options: awsRegions, Default: "us-east-1", Required: true},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"access_key", "iam", "assume_role"}, Default: "access_key"},
			{Name: "role_arn", Label: "Role ARN", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"assume_role"}}},
			{Name: "external_id", Label: "External ID", Type: FieldString,
				VisibleWhen: map[string][]string{"auth_method": {"assume_role"}}},
			{Name: "iterator_type", Label: "Iterator Type", Type: FieldSelect,
				Options: []string{"TRIM_HORIZON", "LATEST"}, Default: "TRIM_HORIZON"},
			{Name: "max_records_per_shard", Label: "Max Records / Shard", Type: FieldInt, Default: 10000},
			{Name: "checkpoint_interval_seconds", Label: "Checkpoint Interval (s)", Type: FieldInt, Default: 60},
			{Name: "enhanced_fanout", Label: "Enhanced Fan-Out", Type: FieldBool, Default: false},
			{Name: "consumer_name", Label: "Consumer Name", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"enhanced_fanout": {"true"}}},
		},
		CredFields: []FieldSpec{
			{Name: "aws_access_key_id", Label: "AWS Access Key ID", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"access_key"}}},
			{Name: "aws_secret_access_key", Label: "AWS Secret Access Key", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"access_key"}}},
		},
	})

	mustRegister(&Spec{
		Kind:        "eventhubs",
		DisplayName: "Azure Event Hubs",
		Category:    CategoryStreaming,
		Mode:        model.ModeStreaming,
		ConfigFields: []FieldSpec{
			{Name: "namespace", Label: "Namespace", Type: FieldString, Required: true},
			{Name: "eventhub_name", Label: "Event Hub Name", Type: FieldString, Required: true},
			{Name: "consumer_group", Label: "Consumer Group", Type: FieldString, Default: "$Default"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"connection_string", "managed_identity", "client_credentials"},
				Default: "connection_string"},
			{Name: "tenant_id", Label: "Azure Tenant ID", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"client_credentials"}}},
			{Name: "client_id", Label: "Azure Client ID", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"client_credentials"}}},
			{Name: "starting_position", Label: "Starting Position", Type: FieldSelect,
				Options: []string{"earliest", "latest"}, Default: "earliest"},
			{Name: "prefetch_count", Label: "Prefetch Count", Type: FieldInt, Default: 300},
			{Name: "max_batch_size", Label: "Max Batch Size", Type: FieldInt, Default: 300},
			{Name: "max_wait_time", Label: "Max Wait Time (s)", Type: FieldInt, Default: 60},
			{Name: "checkpoint_store_container", Label: "Checkpoint Container", Type: FieldString, Default: "eventhub-checkpoints"},
		},
		CredFields: []FieldSpec{
			{Name: "client_secret", Label: "Azure Client Secret", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"client_credentials"}}},
			{Name: "connection_string", Label: "Event Hub Connection String", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"connection_string", "client_credentials"}}},
			{Name: "checkpoint_store_connection_string", Label: "Checkpoint Store Connection", Type: FieldPassword},
		},
	})

	mustRegister(&Spec{
		Kind:        "pubsub",
		DisplayName: "Google Pub/Sub",
		Category:    CategoryStreaming,
		Mode:        model.ModeStreaming,
		ConfigFields: []FieldSpec{
			{Name: "project_id", Label: "GCP Project ID", Type: FieldString, Required: true},
			{Name: "subscription_id", Label: "Subscription ID", Type: FieldString, Required: true},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"service_account", "workload_identity"}, Default: "service_account"},
			{Name: "max_messages", Label: "Max Messages / Pull", Type: FieldInt, Default: 1000},
			{Name: "ack_deadline_seconds", Label: "Ack Deadline (s)", Type: FieldInt, Default: 60},
			{Name: "flow_control_max_messages", Label: "Flow Max Messages", Type: FieldInt, Default: 1000},
			{Name: "ordering_enabled", Label: "Message Ordering", Type: FieldBool, Default: false},
			{Name: "exactly_once", Label: "Exactly-Once Delivery", Type: FieldBool, Default: false},
			{Name: "dead_letter_topic", Label: "Dead Letter Topic", Type: FieldString},
		},
		CredFields: []FieldSpec{
			{Name: "service_account_json", Label: "Service Account Key (JSON)", Type: FieldFile, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"service_account"}}},
		},
	})

	mustRegister(&Spec{
		Kind:            "snowflake",
		DisplayName:     "Snowflake",
		Category:        CategoryWarehouse,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 3 * * *",
		ConfigFields: append(append([]FieldSpec{
			{Name: "account", Label: "Account", Type: FieldString, Required: true},
			{Name: "warehouse", Label: "Warehouse", Type: FieldString, Required: true},
			{Name: "database", Label: "Database", Type: FieldString, Required: true},
			{Name: "schema_name", Label: "Schema", Type: FieldString, Default: "PUBLIC"},
			{Name: "role", Label: "Role", Type: FieldString, Default: "PINOT_PULSE_READER"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"password", "key_pair", "oauth"}, Default: "password"},
			{Name: "source_table", Label: "Source Table", Type: FieldString},
			{Name: "source_query", Label: "Source Query", Type: FieldString},
			{Name: "fetch_size", Label: "Fetch Size", Type: FieldInt, Default: 10000},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 60},
		}, scheduleFields("0 3 * * *", "UTC")...), incrementalFields("MODIFIED_AT")...),
		CredFields: []FieldSpec{
			{Name: "username", Label: "Snowflake Username", Type: FieldString, Required: true},
			{Name: "password", Label: "Snowflake Password", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"password", "oauth"}}},
			{Name: "private_key", Label: "Private Key (PEM)", Type: FieldFile, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"key_pair"}}},
			{Name: "passphrase", Label: "Key Passphrase", Type: FieldPassword,
				VisibleWhen: map[string][]string{"auth_method": {"key_pair"}}},
		},
	})

	mustRegister(&Spec{
		Kind:            "postgres",
		DisplayName:     "PostgreSQL",
		Category:        CategoryWarehouse,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 2 * * *",
		ConfigFields: append(append([]FieldSpec{
			{Name: "host", Label: "Host", Type: FieldString, Required: true},
			{Name: "port", Label: "Port", Type: FieldInt, Default: 5432},
			{Name: "database", Label: "Database", Type: FieldString, Required: true},
			{Name: "schema_name", Label: "Schema", Type: FieldString, Default: "public"},
			{Name: "ssl_mode", Label: "SSL Mode", Type: FieldSelect,
				Options: []string{"disable", "require", "verify-ca", "verify-full"}, Default: "require"},
			{Name: "connection_pool_size", Label: "Pool Size", Type: FieldInt, Default: 5},
			{Name: "source_table", Label: "Source Table", Type: FieldString},
			{Name: "source_query", Label: "Source Query", Type: FieldString},
			{Name: "fetch_size", Label: "Fetch Size", Type: FieldInt, Default: 5000},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 60},
		}, scheduleFields("0 2 * * *", "UTC")...), incrementalFields("updated_at")...),
		CredFields: []FieldSpec{
			{Name: "username", Label: "Database Username", Type: FieldString, Required: true},
			{Name: "password", Label: "Database Password", Type: FieldPassword, Required: true},
		},
	})

	mustRegister(&Spec{
		Kind:            "s3",
		DisplayName:     "Object Storage",
		Category:        CategoryFile,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 4 * * *",
		ConfigFields: append([]FieldSpec{
			{Name: "storage_provider", Label: "Storage Provider", Type: FieldSelect,
				Options: []string{"aws_s3", "gcs", "azure_blob"}, Default: "aws_s3"},
			{Name: "bucket", Label: "Bucket Name", Type: FieldString, Required: true},
			{Name: "prefix", Label: "Key Prefix", Type: FieldString, Default: ""},
			{Name: "region", Label: "Region", Type: FieldSelect, Options: awsRegions, Default: "us-east-1",
				VisibleWhen: map[string][]string{"storage_provider": {"aws_s3"}}},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"access_key", "iam", "assume_role"}, Default: "access_key",
				VisibleWhen: map[string][]string{"storage_provider": {"aws_s3"}}},
			{Name: "role_arn", Label: "Role ARN", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"assume_role"}, "storage_provider": {"aws_s3"}}},
			{Name: "file_format", Label: "File Format", Type: FieldSelect,
				Options: []string{"csv", "json", "jsonl", "parquet", "avro"}, Default: "csv"},
			{Name: "file_pattern", Label: "File Pattern", Type: FieldString, Default: "*"},
			{Name: "compression", Label: "Compression", Type: FieldSelect,
				Options: []string{"none", "gzip"}, Default: "none"},
			{Name: "csv_delimiter", Label: "Delimiter", Type: FieldString, Default: ",",
				VisibleWhen: map[string][]string{"file_format": {"csv"}}},
			{Name: "csv_encoding", Label: "Encoding", Type: FieldSelect,
				Options: []string{"utf-8", "latin-1"}, Default: "utf-8",
				VisibleWhen: map[string][]string{"file_format": {"csv"}}},
			{Name: "csv_header", Label: "Has Header Row", Type: FieldBool, Default: true,
				VisibleWhen: map[string][]string{"file_format": {"csv"}}},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 120},
			{Name: "archive_processed", Label: "Archive Processed Files", Type: FieldBool, Default: true},
			{Name: "archive_prefix", Label: "Archive Prefix", Type: FieldString, Default: "processed/",
				VisibleWhen: map[string][]string{"archive_processed": {"true"}}},
		}, scheduleFields("0 4 * * *", "UTC")...),
		CredFields: []FieldSpec{
			{Name: "aws_access_key_id", Label: "AWS Access Key ID", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"storage_provider": {"aws_s3"}, "auth_method": {"access_key"}}},
			{Name: "aws_secret_access_key", Label: "AWS Secret Access Key", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"storage_provider": {"aws_s3"}, "auth_method": {"access_key"}}},
			{Name: "gcp_service_account_json", Label: "GCP Service Account Key", Type: FieldFile, Required: true,
				VisibleWhen: map[string][]string{"storage_provider": {"gcs"}}},
			{Name: "azure_connection_string", Label: "Azure Connection String", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"storage_provider": {"azure_blob"}}},
		},
	})

	mustRegister(&Spec{
		Kind:            "sftp",
		DisplayName:     "SFTP",
		Category:        CategoryFile,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 5 * * *",
		ConfigFields: append([]FieldSpec{
			{Name: "host", Label: "Host", Type: FieldString, Required: true},
			{Name: "port", Label: "Port", Type: FieldInt, Default: 22},
			{Name: "remote_path", Label: "Remote Directory", Type: FieldString, Default: "/exports/"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"password", "private_key"}, Default: "password"},
			{Name: "known_hosts_check", Label: "Verify Host Key", Type: FieldBool, Default: true},
			{Name: "file_format", Label: "File Format", Type: FieldSelect,
				Options: []string{"csv", "json", "jsonl", "fixed_width"}, Default: "csv"},
			{Name: "file_pattern", Label: "File Pattern", Type: FieldString, Default: "*.csv"},
			{Name: "csv_delimiter", Label: "Delimiter", Type: FieldString, Default: ",",
				VisibleWhen: map[string][]string{"file_format": {"csv"}}},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 60},
			{Name: "archive_after_download", Label: "Move Files After Processing", Type: FieldBool, Default: true},
			{Name: "delete_after_download", Label: "Delete Files After Processing", Type: FieldBool, Default: false},
		}, scheduleFields("0 5 * * *", "UTC")...),
		CredFields: []FieldSpec{
			{Name: "username", Label: "SFTP Username", Type: FieldString, Required: true},
			{Name: "password", Label: "SFTP Password", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"password"}}},
			{Name: "private_key", Label: "SSH Private Key (PEM)", Type: FieldFile, Required: true,
				VisibleWhen: map[string][]string{"auth_method": {"private_key"}}},
		},
	})

	mustRegister(&Spec{
		Kind:            "rest_api",
		DisplayName:     "REST API",
		Category:        CategoryAPI,
		Mode:            model.ModeAPIPoll,
		DefaultSchedule: "0 6 * * *",
		ConfigFields: append([]FieldSpec{
			{Name: "base_url", Label: "Base URL", Type: FieldString, Required: true},
			{Name: "auth_type", Label: "Auth Type", Type: FieldSelect,
				Options: []string{"none", "api_key", "bearer_token", "basic_auth", "oauth2"}, Default: "api_key"},
			{Name: "api_key_header", Label: "API Key Header", Type: FieldString, Default: "Authorization",
				VisibleWhen: map[string][]string{"auth_type": {"api_key"}}},
			{Name: "oauth_token_url", Label: "OAuth Token URL", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_type": {"oauth2"}}},
			{Name: "oauth_scope", Label: "OAuth Scope", Type: FieldString,
				VisibleWhen: map[string][]string{"auth_type": {"oauth2"}}},
			{Name: "timeout_seconds", Label: "Timeout (s)", Type: FieldInt, Default: 30},
			{Name: "response_root", Label: "Response Root", Type: FieldString, Default: "data"},
			{Name: "rate_limit_rps", Label: "Rate Limit (req/s)", Type: FieldInt, Default: 10},
			{Name: "rate_limit_burst", Label: "Burst Limit", Type: FieldInt, Default: 20},
			{Name: "pagination_type", Label: "Pagination", Type: FieldSelect,
				Options: []string{"none", "page", "cursor", "offset"}, Default: "none"},
			{Name: "pagination_page_size", Label: "Page Size", Type: FieldInt, Default: 500,
				VisibleWhen: map[string][]string{"pagination_type": {"page", "cursor", "offset"}}},
			{Name: "pagination_cursor_field", Label: "Cursor Field", Type: FieldString,
				VisibleWhen: map[string][]string{"pagination_type": {"cursor"}}},
			{Name: "poll_interval_seconds", Label: "Poll Interval (s)", Type: FieldInt, Default: 60},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 30},
			{Name: "max_retries", Label: "Max Retries", Type: FieldInt, Default: 5},
		}, scheduleFields("0 6 * * *", "UTC")...),
		CredFields: []FieldSpec{
			{Name: "api_key", Label: "API Key", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_type": {"api_key"}}},
			{Name: "token", Label: "Bearer Token", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_type": {"bearer_token"}}},
			{Name: "username", Label: "Username", Type: FieldString, Required: true,
				VisibleWhen: map[string][]string{"auth_type": {"basic_auth", "oauth2"}}},
			{Name: "password", Label: "Password", Type: FieldPassword, Required: true,
				VisibleWhen: map[string][]string{"auth_type": {"basic_auth", "oauth2"}}},
		},
	})

	mustRegister(&Spec{
		Kind:        "file_upload",
		DisplayName: "File Upload",
		Category:    CategoryFile,
		Mode:        model.ModeFileEvent,
		ConfigFields: []FieldSpec{
			{Name: "spool_dir", Label: "Spool Directory", Type: FieldString, Default: "uploads"},
			{Name: "max_file_size_mb", Label: "Max File Size (MB)", Type: FieldInt, Default: 500},
			{Name: "min_rows", Label: "Min Rows", Type: FieldInt, Default: 1},
			{Name: "csv_encoding", Label: "Encoding", Type: FieldSelect,
				Options: []string{"utf-8", "latin-1"}, Default: "utf-8"},
			{Name: "csv_delimiter", Label: "CSV Delimiter", Type: FieldString, Default: ","},
			{Name: "csv_header", Label: "Has Header Row", Type: FieldBool, Default: true},
			{Name: "auto_detect_schema", Label: "Auto-Detect Schema", Type: FieldBool, Default: true},
			{Name: "required_columns", Label: "Required Columns", Type: FieldList},
			{Name: "max_records_per_file", Label: "Max Records per File", Type: FieldInt, Default: 10000000},
			{Name: "checksum_validation", Label: "Checksum Validation", Type: FieldBool, Default: true},
		},
		CredFields: nil,
	})

	mustRegister(&Spec{
		Kind:            "fiserv_dna",
		DisplayName:     "Fiserv DNA",
		Category:        CategoryCoreBanking,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 1 * * *",
		ConfigFields: append(append([]FieldSpec{
			{Name: "base_url", Label: "DNA API Base URL", Type: FieldString, Required: true},
			{Name: "institution_id", Label: "Institution ID", Type: FieldString, Required: true},
			{Name: "environment", Label: "Environment", Type: FieldSelect,
				Options: []string{"production", "sandbox"}, Default: "production"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"hmac"}, Default: "hmac"},
			{Name: "entities", Label: "Entities", Type: FieldList, Required: true},
			{Name: "sync_mode", Label: "Sync Mode", Type: FieldSelect,
				Options: []string{"incremental", "full"}, Default: "incremental"},
			{Name: "page_size", Label: "Page Size", Type: FieldInt, Default: 500},
			{Name: "rate_limit_rps", Label: "Rate Limit (req/s)", Type: FieldInt, Default: 15},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 120},
		}, scheduleFields("0 1 * * *", "US/Eastern")...), incrementalFields("modifiedDate")...),
		CredFields: []FieldSpec{
			{Name: "api_key", Label: "DNA API Key", Type: FieldString, Required: true},
			{Name: "api_secret", Label: "DNA API Secret", Type: FieldPassword, Required: true},
		},
	})

	mustRegister(&Spec{
		Kind:            "symitar",
		DisplayName:     "Jack Henry Symitar",
		Category:        CategoryCoreBanking,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 2 * * *",
		ConfigFields: append(append([]FieldSpec{
			{Name: "base_url", Label: "SymXchange API URL", Type: FieldString, Required: true},
			{Name: "sym_routing", Label: "Symitar Routing Number", Type: FieldString, Required: true},
			{Name: "device_id", Label: "Device ID", Type: FieldString, Default: "PINOT-PULSE"},
			{Name: "environment", Label: "Environment", Type: FieldSelect,
				Options: []string{"production", "sandbox"}, Default: "production"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"session_token"}, Default: "session_token"},
			{Name: "entities", Label: "Entities", Type: FieldList, Required: true},
			{Name: "sync_mode", Label: "Sync Mode", Type: FieldSelect,
				Options: []string{"incremental", "full"}, Default: "incremental"},
			{Name: "page_size", Label: "Page Size", Type: FieldInt, Default: 500},
			{Name: "rate_limit_rps", Label: "Rate Limit (req/s)", Type: FieldInt, Default: 10},
			{Name: "session_refresh_minutes", Label: "Session Refresh (min)", Type: FieldInt, Default: 18},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 120},
		}, scheduleFields("0 2 * * *", "US/Eastern")...), incrementalFields("lastFMDate")...),
		CredFields: []FieldSpec{
			{Name: "username", Label: "SymXchange Username", Type: FieldString, Required: true},
			{Name: "password", Label: "SymXchange Password", Type: FieldPassword, Required: true},
		},
	})

	mustRegister(&Spec{
		Kind:            "keystone",
		DisplayName:     "Corelation KeyStone",
		Category:        CategoryCoreBanking,
		Mode:            model.ModeBatchCron,
		DefaultSchedule: "0 1 * * *",
		ConfigFields: append(append([]FieldSpec{
			{Name: "base_url", Label: "KeyStone API URL", Type: FieldString, Required: true},
			{Name: "tenant_id", Label: "Tenant ID", Type: FieldString, Required: true},
			{Name: "environment", Label: "Environment", Type: FieldSelect,
				Options: []string{"production", "sandbox"}, Default: "production"},
			{Name: "auth_method", Label: "Auth Method", Type: FieldSelect,
				Options: []string{"oauth2"}, Default: "oauth2"},
			{Name: "oauth_scope", Label: "OAuth Scope", Type: FieldString, Default: "read"},
			{Name: "entities", Label: "Entities", Type: FieldList, Required: true},
			{Name: "sync_mode", Label: "Sync Mode", Type: FieldSelect,
				Options: []string{"incremental", "full"}, Default: "incremental"},
			{Name: "page_size", Label: "Page Size", Type: FieldInt, Default: 500},
			{Name: "rate_limit_rps", Label: "Rate Limit (req/s)", Type: FieldInt, Default: 20},
			{Name: "max_runtime_minutes", Label: "Max Runtime (min)", Type: FieldInt, Default: 120},
		}, scheduleFields("0 1 * * *", "US/Eastern")...), incrementalFields("updatedAt")...),
		CredFields: []FieldSpec{
			{Name: "client_id", Label: "OAuth2 Client ID", Type: FieldString, Required: true},
			{Name: "client_secret", Label: "OAuth2 Client Secret", Type: FieldPassword, Required: true},
		},
	})
}
