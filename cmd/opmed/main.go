// OpMed 手术排程引擎命令行工具
// 读取手术 CSV，求解后输出排班方案、校验报告与指标

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/internal/database"
	"github.com/opmed/opmed/internal/repository"
	"github.com/opmed/opmed/pkg/export"
	"github.com/opmed/opmed/pkg/loader"
	"github.com/opmed/opmed/pkg/logger"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/scheduler/problem"
	"github.com/opmed/opmed/pkg/scheduler/solver"
	"github.com/opmed/opmed/pkg/stats"
	"github.com/opmed/opmed/pkg/validator"
)

var (
	Version = "dev"
)

func main() {
	var (
		surgeriesPath = flag.String("surgeries", "", "手术清单 CSV 文件路径（必填）")
		configPath    = flag.String("config", "", "排程约束 YAML 配置路径，缺省使用内置默认值")
		outputDir     = flag.String("output", "output", "结果输出目录")
		timeout       = flag.Duration("timeout", 60*time.Second, "求解时间上限")
		workers       = flag.Int("workers", 4, "并行求解工作线程数")
		seed          = flag.Int64("seed", 0, "随机种子")
		store         = flag.Bool("store", false, "将运行结果写入数据库存档")
		logLevel      = flag.String("log-level", "info", "日志级别")
		showVersion   = flag.Bool("version", false, "打印版本号后退出")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("opmed v%s\n", Version)
		return
	}

	logger.Init(logger.Config{
		Level:  *logLevel,
		Format: "console",
	})

	if *surgeriesPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*surgeriesPath, *configPath, *outputDir, *timeout, *workers, *seed, *store); err != nil {
		logger.Error().Err(err).Msg("排程运行失败")
		os.Exit(1)
	}
}

func run(surgeriesPath, configPath, outputDir string, timeout time.Duration, workers int, seed int64, store bool) error {
	// 加载排程约束配置
	schedCfg := config.DefaultScheduleConfig()
	if configPath != "" {
		loaded, err := config.LoadScheduleFile(configPath)
		if err != nil {
			return err
		}
		schedCfg = loaded
	}

	// 加载手术清单，刻度长度由配置推导
	deltaT := time.Hour / time.Duration(schedCfg.TicksPerHour)
	loadResult, err := loader.LoadSurgeries(surgeriesPath, deltaT)
	if err != nil {
		return err
	}
	for _, issue := range loadResult.Issues {
		logger.Warn().
			Int("row", issue.Row).
			Str("message", issue.Message).
			Msg("手术记录已跳过")
	}
	logger.Info().
		Int("surgeries", len(loadResult.Surgeries)).
		Int("skipped", len(loadResult.Issues)).
		Msg("手术清单加载完成")

	// 构建排程问题
	prob, err := problem.Build(loadResult.Surgeries, &schedCfg)
	if err != nil {
		return err
	}

	// 求解
	solverCfg := config.SolverConfig{
		NumWorkers: workers,
		MaxTime:    timeout,
		RandomSeed: seed,
	}
	s := solver.NewBranchBoundSolver(solverCfg)

	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()

	result, err := s.Solve(ctx, prob)
	if err != nil {
		return err
	}

	logger.Info().
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Int64("explored", result.Explored).
		Msg("求解完成")

	// 校验与指标
	var report *validator.ValidationReport
	if result.Status.HasSolution() {
		report, err = validator.New(&schedCfg).Validate(loadResult.Surgeries, result.Assignments)
		if err != nil {
			return err
		}
		if report.Valid {
			logger.Info().Msg("校验通过")
		} else {
			slog := logger.NewSolverLogger()
			for _, vio := range report.Errors {
				slog.ConstraintViolation(vio.CheckName, vio.Message)
			}
			logger.Warn().
				Int("errors", len(report.Errors)).
				Int("warnings", len(report.Warnings)).
				Msg("校验发现问题")
		}
	}

	m, err := stats.NewMetricsCollector(&schedCfg).Collect(result, loadResult.Surgeries)
	if err != nil {
		return err
	}

	// 输出结果文件
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	if result.Status.HasSolution() {
		if err := export.WriteSolutionCSV(filepath.Join(outputDir, "solution.csv"), result, loadResult.Surgeries); err != nil {
			return err
		}
		if err := export.WriteReportJSON(filepath.Join(outputDir, "report.json"), report); err != nil {
			return err
		}
	}
	if err := export.WriteMetricsJSON(filepath.Join(outputDir, "metrics.json"), m); err != nil {
		return err
	}
	logger.Info().Str("dir", outputDir).Msg("结果已写入")

	// 可选：写入数据库存档
	if store {
		if err := storeRun(ctx, result, m, report, loadResult); err != nil {
			return err
		}
	}

	return nil
}

// storeRun 将运行结果写入数据库
func storeRun(ctx context.Context, result *model.SolveResult, m *model.Metrics, report *validator.ValidationReport, loadResult *loader.Result) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	runs := repository.NewRunRepository(db)
	run := &repository.SolveRun{
		ID:              uuid.New(),
		Status:          string(result.Status),
		Objective:       result.Objective,
		NumSurgeries:    m.NumSurgeries,
		NumAnesthetists: m.NumAnesthetists,
		NumRoomsUsed:    m.NumRoomsUsed,
		Utilization:     m.Utilization,
		RuntimeSeconds:  m.RuntimeSeconds,
		Valid:           report != nil && report.Valid,
	}
	if err := runs.Create(ctx, run); err != nil {
		return err
	}
	if len(result.Assignments) > 0 {
		if err := runs.CreateAssignments(ctx, run.ID, result.Assignments, loadResult.Surgeries); err != nil {
			return err
		}
	}
	logger.Info().Str("run_id", run.ID.String()).Msg("运行结果已存档")
	return nil
}
