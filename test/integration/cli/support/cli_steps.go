package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrbridge/cmd/qrbridge/cmd"
)

// RegisterCLISteps registers the command execution steps.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run pixels on "([^"]*)"$`, testCtx.iRunPixelsOn)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON output should have (\d+) reports?$`, testCtx.theJSONOutputShouldHaveReports)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^the log should contain "([^"]*)"$`, testCtx.theLogShouldContain)
}

// iRunCommand executes a qrbridge command line in-process.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] != "qrbridge" {
		return fmt.Errorf("unsupported command: %s", parts[0])
	}
	return testCtx.execute(parts[1:])
}

func (testCtx *TestContext) execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root := cmd.NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	testCtx.LastError = root.ExecuteContext(ctx)
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastExitCode = 0
	if testCtx.LastError != nil {
		testCtx.LastExitCode = 1
	}
	return nil
}

// iRunPixelsOn runs the pixels command with the geometry of a registered buffer.
func (testCtx *TestContext) iRunPixelsOn(name string) error {
	buf, ok := testCtx.Buffers[name]
	if !ok {
		return fmt.Errorf("no pixel buffer named %s", name)
	}
	args := []string{
		"pixels", buf.Path,
		"--format", buf.Format,
		"--width", fmt.Sprint(buf.Width),
		"--height", fmt.Sprint(buf.Height),
	}
	if buf.BottomUp {
		args = append(args, "--bottom-up")
	}
	testCtx.LastCommand = "qrbridge " + strings.Join(args, " ")
	return testCtx.execute(args)
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed: %w\nOutput: %s\nLog: %s",
			testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	expected = testCtx.substitute(expected)
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastOutput)) {
		return fmt.Errorf("output is not valid JSON: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theJSONOutputShouldHaveReports(n int) error {
	var reports []json.RawMessage
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &reports); err != nil {
		return fmt.Errorf("output is not a JSON array: %w", err)
	}
	if len(reports) != n {
		return fmt.Errorf("expected %d reports, got %d", n, len(reports))
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(expected string) error {
	if testCtx.LastError == nil {
		return errors.New("command did not return an error")
	}
	if !strings.Contains(testCtx.LastError.Error(), expected) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, expected)
	}
	return nil
}

func (testCtx *TestContext) theLogShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastStderr, expected) {
		return fmt.Errorf("log does not contain '%s'\nActual log: %s", expected, testCtx.LastStderr)
	}
	return nil
}
