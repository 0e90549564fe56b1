package constants

const (
	// ColumnExistsQuery is the primary capability probe
	ColumnExistsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	)
	`

	// ChangeNotifyFunction publishes row changes on the tourdesk_changes channel
	ChangeNotifyFunction = `
	CREATE OR REPLACE FUNCTION tourdesk_notify_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('tourdesk_changes', json_build_object(
			'table', TG_TABLE_NAME,
			'kind', lower(TG_OP),
			'previous', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
			'current', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END
		)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql;
	`

	// ChangeNotifyDropTrigger and ChangeNotifyTrigger are formatted with the table name
	ChangeNotifyDropTrigger = `DROP TRIGGER IF EXISTS tourdesk_notify_%[1]s ON %[1]s`

	ChangeNotifyTrigger = `
	CREATE TRIGGER tourdesk_notify_%[1]s
	AFTER INSERT OR UPDATE OR DELETE ON %[1]s
	FOR EACH ROW EXECUTE FUNCTION tourdesk_notify_change();
	`
)
