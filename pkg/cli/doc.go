/*
Package cli provides command-line interface utilities for the flagwise
command.

Output Formatting:

Command results can be printed as plain text or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	sigChan := cli.WaitForShutdown()
	select {
	case sig := <-sigChan:
		// begin teardown
	case err := <-errChan:
		// surface the failure
	}
*/
package cli
